package types

import "time"

// User owns schedules and the profile state the planner reads and writes.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Profile   Profile   `json:"profile"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the user preference state shared with the planner.
type Profile struct {
	ZipCode              string   `json:"zipCode,omitempty"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`
	ForcedChargingActive bool     `json:"forcedChargingActive"`
	// ForcedChargePercent is the target of the live forced charge. It outlives
	// the start event, which is removed once it has fired.
	ForcedChargePercent int `json:"forcedChargePercent,omitempty"`
}

// HasLocation reports whether coordinates have been configured. A zip code
// alone is not enough since forecasts are looked up by coordinates.
func (p Profile) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// EnergySite is a battery site the user can schedule.
type EnergySite struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
