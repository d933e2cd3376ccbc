package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/peakshift/peakshift/pkg/common"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

const (
	openMeteoDefaultBaseURL = "https://api.open-meteo.com"

	// generation is negligible right after sunrise and right before sunset
	sunriseOffset = time.Hour
	sunsetOffset  = time.Hour
)

// OpenMeteo evaluates hourly cloud cover and precipitation probability from
// the Open-Meteo forecast API over the day's solar window.
type OpenMeteo struct {
	client  *http.Client
	baseURL string
	clock   clockwork.Clock
}

var _ Evaluator = (*OpenMeteo)(nil)

// NewOpenMeteo returns an evaluator against baseURL.
func NewOpenMeteo(baseURL string, clock clockwork.Clock) *OpenMeteo {
	return &OpenMeteo{
		client:  common.HTTPClient(30 * time.Second),
		baseURL: baseURL,
		clock:   clock,
	}
}

type openMeteoResponse struct {
	Timezone         string `json:"timezone"`
	UTCOffsetSeconds int    `json:"utc_offset_seconds"`
	Hourly           struct {
		Time                     []int64    `json:"time"`
		CloudCover               []*float64 `json:"cloud_cover"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
	} `json:"hourly"`
	Daily struct {
		Time    []int64 `json:"time"`
		Sunrise []int64 `json:"sunrise"`
		Sunset  []int64 `json:"sunset"`
	} `json:"daily"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func (o *OpenMeteo) fetch(ctx context.Context, lat, lon float64) (openMeteoResponse, error) {
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return openMeteoResponse{}, err
	}
	u.Path, err = url.JoinPath(u.Path, "v1/forecast")
	if err != nil {
		return openMeteoResponse{}, err
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("hourly", "cloud_cover,precipitation_probability")
	params.Set("daily", "sunrise,sunset")
	params.Set("timezone", "auto")
	params.Set("timeformat", "unixtime")
	params.Set("forecast_days", "2")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return openMeteoResponse{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return openMeteoResponse{}, err
	}
	defer resp.Body.Close()

	var res openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return openMeteoResponse{}, fmt.Errorf("failed to decode forecast (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || res.Error {
		return openMeteoResponse{}, fmt.Errorf("forecast api status %d: %s", resp.StatusCode, res.Reason)
	}
	return res, nil
}

// Evaluate implements Evaluator.
func (o *OpenMeteo) Evaluate(ctx context.Context, user types.User) (Forecast, error) {
	p := user.Profile
	if p.Latitude == nil || p.Longitude == nil {
		log.Ctx(ctx).WarnContext(ctx, "no coordinates for user, assuming good weather")
		return assumeGoodWeather, nil
	}

	res, err := o.fetch(ctx, *p.Latitude, *p.Longitude)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %w", ErrForecastEvaluation, err)
	}
	f, err := evaluate(res, o.clock.Now())
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %w", ErrForecastEvaluation, err)
	}
	return f, nil
}

func (r openMeteoResponse) location() *time.Location {
	if r.Timezone != "" {
		if loc, err := time.LoadLocation(r.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("forecast", r.UTCOffsetSeconds)
}

// sunTimes returns the sunrise and sunset on the local date of day.
func (r openMeteoResponse) sunTimes(day time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	y, m, d := day.Date()
	for i := range r.Daily.Time {
		if i >= len(r.Daily.Sunrise) || i >= len(r.Daily.Sunset) {
			break
		}
		dy, dm, dd := time.Unix(r.Daily.Time[i], 0).In(loc).Date()
		if dy == y && dm == m && dd == d {
			return time.Unix(r.Daily.Sunrise[i], 0).In(loc), time.Unix(r.Daily.Sunset[i], 0).In(loc), true
		}
	}
	return time.Time{}, time.Time{}, false
}

// seasonalWindow is the fallback solar window when sunrise and sunset are
// unknown.
func seasonalWindow(day time.Time) (types.TimeOfDay, types.TimeOfDay) {
	switch day.Month() {
	case time.December, time.January, time.February:
		return types.NewTimeOfDay(9, 0), types.NewTimeOfDay(16, 0)
	case time.June, time.July, time.August:
		return types.NewTimeOfDay(7, 0), types.NewTimeOfDay(18, 0)
	default:
		return types.NewTimeOfDay(8, 0), types.NewTimeOfDay(17, 0)
	}
}

// solarWindow picks the day to evaluate, today or tomorrow once today's
// sun has set, and the hours of it that count.
func (r openMeteoResponse) solarWindow(now time.Time) (time.Time, time.Time) {
	loc := now.Location()
	day := now
	if _, sunset, ok := r.sunTimes(day, loc); ok && now.After(sunset) {
		day = day.AddDate(0, 0, 1)
	}

	if sunrise, sunset, ok := r.sunTimes(day, loc); ok {
		start, end := sunrise.Add(sunriseOffset), sunset.Add(-sunsetOffset)
		if start.After(end) {
			return sunrise, sunset
		}
		return start, end
	}
	s, e := seasonalWindow(day)
	return s.On(day), e.On(day)
}

func evaluate(r openMeteoResponse, now time.Time) (Forecast, error) {
	now = now.In(r.location())
	start, end := r.solarWindow(now)

	var (
		cloudSum   float64
		cloudCount int
		maxPrecip  = -1.0
	)
	for i, ts := range r.Hourly.Time {
		t := time.Unix(ts, 0)
		if t.Before(start) || !t.Before(end) {
			continue
		}
		if i < len(r.Hourly.CloudCover) && r.Hourly.CloudCover[i] != nil {
			cloudSum += *r.Hourly.CloudCover[i]
			cloudCount++
		}
		if i < len(r.Hourly.PrecipitationProbability) && r.Hourly.PrecipitationProbability[i] != nil {
			maxPrecip = math.Max(maxPrecip, *r.Hourly.PrecipitationProbability[i])
		}
	}
	if cloudCount == 0 {
		return Forecast{}, fmt.Errorf("no cloud cover data between %s and %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if maxPrecip < 0 {
		return Forecast{}, fmt.Errorf("no precipitation data between %s and %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	avgCloud := cloudSum / float64(cloudCount)
	sunshine := int(math.Round((100 - avgCloud) * (1 - maxPrecip/100)))
	return Forecast{
		SunshinePercentage: sunshine,
		Reason: fmt.Sprintf(
			"Solar potential is %d%% based on avg. cloud cover of %.0f%% and max precip. chance of %.0f%%.",
			sunshine, avgCloud, maxPrecip,
		),
	}, nil
}
