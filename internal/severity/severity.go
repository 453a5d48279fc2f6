// Package severity implements the pure, deterministic severity/risk
// model. Neither function performs I/O or touches shared state.
package severity

// Severity computes severity_current from seed and the current telemetry
// snapshot.
func Severity(seed int, timeDownSec, stillness, motion float64, acked bool) int {
	s := seed

	switch {
	case timeDownSec > 120:
		s = max(s, 5)
	case timeDownSec > 45:
		s = max(s, 4)
	case timeDownSec > 15:
		s = max(s, 3)
	}

	if stillness > 0.9 && timeDownSec > 30 {
		s = min(s+1, 5)
	}

	if motion > 0.5 && stillness < 0.3 {
		s = max(s-1, 1)
	}

	if acked {
		s = max(s-1, 1)
	}

	return clamp(s, 1, 5)
}

// BedState and Stability mirror the planner's enum vocabulary but
// are kept as plain strings here so this package has zero dependency on
// the model package — the two functions in this file are meant to stay
// trivially unit-testable in isolation.
type BedState string

const (
	BedInBed           BedState = "IN_BED"
	BedNearEdge        BedState = "NEAR_EDGE"
	BedSittingEdge     BedState = "SITTING_EDGE"
	BedLegsOver        BedState = "LEGS_OVER"
	BedStandingNearBed BedState = "STANDING_NEAR_BED"
	BedOutOfBed        BedState = "OUT_OF_BED"
	BedUnknown         BedState = "UNKNOWN"
)

type Stability string

const (
	StabilityStable   Stability = "STABLE"
	StabilityUnstable Stability = "UNSTABLE"
	StabilityUnknown  Stability = "UNKNOWN"
)

var bedStateBase = map[BedState]float64{
	BedInBed:           0.0,
	BedNearEdge:        0.2,
	BedSittingEdge:     0.4,
	BedLegsOver:        0.6,
	BedStandingNearBed: 0.3,
	BedOutOfBed:        0.1,
	BedUnknown:         0.15,
}

// Risk computes a [0,1] risk score from bed state, stability, and hour of
// day.
func Risk(bedState BedState, stability Stability, hour int) float64 {
	risk := bedStateBase[bedState]

	switch stability {
	case StabilityUnstable:
		risk += 0.25
	case StabilityUnknown:
		risk += 0.1
	}

	if hour >= 22 || hour <= 5 {
		risk += 0.1
	}

	if risk < 0 {
		return 0
	}
	if risk > 1 {
		return 1
	}
	return risk
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
