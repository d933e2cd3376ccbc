package jobs

// Window is the half of a period that "now" falls in.
type Window string

const (
	OnPeak  Window = "on-peak"
	OffPeak Window = "off-peak"
)

// Action is what reconciliation should do about the device.
type Action string

const (
	ActionCorrect        Action = "CORRECT"
	ActionSkip           Action = "SKIP"
	ActionAlreadyCorrect Action = "ALREADY_CORRECT"
)

// Decision is the outcome of comparing the device against the schedule.
type Decision struct {
	Action Action
	Target int
	// Reason explains a skip.
	Reason string
}

// Decide compares the actual reserve against the target. During on-peak
// only a reserve above the target is corrected and during off-peak only one
// below it. A reserve on the other side is treated as a manual override.
func Decide(w Window, actual, target int) Decision {
	switch {
	case actual == target:
		return Decision{Action: ActionAlreadyCorrect, Target: target}
	case w == OnPeak && actual > target, w == OffPeak && actual < target:
		return Decision{Action: ActionCorrect, Target: target}
	case w == OnPeak:
		return Decision{
			Action: ActionSkip,
			Target: target,
			Reason: fmtSkip("lower", actual, target, w),
		}
	default:
		return Decision{
			Action: ActionSkip,
			Target: target,
			Reason: fmtSkip("higher", actual, target, w),
		}
	}
}
