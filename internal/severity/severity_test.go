package severity

import "testing"

func TestSeverity_SeedFloor(t *testing.T) {
	cases := []struct {
		name        string
		seed        int
		timeDownSec float64
		stillness   float64
		motion      float64
		acked       bool
		want        int
	}{
		{"fresh seed below all floors", 2, 5, 0, 0, false, 2},
		{"floor at 3 after 15s", 2, 16, 0, 0, false, 3},
		{"floor at 4 after 45s", 2, 46, 0, 0, false, 4},
		{"floor at 5 after 120s", 2, 121, 0, 0, false, 5},
		{"seed already above floor wins", 4, 16, 0, 0, false, 4},
		{"stillness bump requires time_down > 30", 3, 31, 0.95, 0, false, 4},
		{"stillness bump withheld under 30s", 3, 20, 0.95, 0, false, 3},
		{"recovery subtracts one", 5, 121, 0, 0.6, false, 4},
		{"ack subtracts one", 3, 16, 0, 0, true, 2},
		{"clamp floor at 1", 1, 0, 0, 0.9, true, 1},
		{"clamp ceiling at 5", 5, 200, 0.95, 0, false, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Severity(c.seed, c.timeDownSec, c.stillness, c.motion, c.acked)
			if got != c.want {
				t.Errorf("Severity(%d, %v, %v, %v, %v) = %d, want %d",
					c.seed, c.timeDownSec, c.stillness, c.motion, c.acked, got, c.want)
			}
			if got < 1 || got > 5 {
				t.Errorf("severity %d out of [1,5]", got)
			}
		})
	}
}

func TestSeverity_Pure(t *testing.T) {
	a := Severity(3, 20, 0.5, 0.1, false)
	b := Severity(3, 20, 0.5, 0.1, false)
	if a != b {
		t.Fatalf("Severity is not pure: got %d and %d for identical input", a, b)
	}
}

func TestRisk_BedStateBaseline(t *testing.T) {
	cases := []struct {
		bed  BedState
		want float64
	}{
		{BedInBed, 0.0},
		{BedNearEdge, 0.2},
		{BedSittingEdge, 0.4},
		{BedLegsOver, 0.6},
		{BedStandingNearBed, 0.3},
		{BedOutOfBed, 0.1},
		{BedUnknown, 0.15},
	}
	for _, c := range cases {
		got := Risk(c.bed, StabilityStable, 12)
		if got != c.want {
			t.Errorf("Risk(%s, stable, noon) = %v, want %v", c.bed, got, c.want)
		}
	}
}

func TestRisk_StabilityAndNightWindow(t *testing.T) {
	base := Risk(BedLegsOver, StabilityStable, 12)
	unstable := Risk(BedLegsOver, StabilityUnstable, 12)
	if got, want := unstable-base, 0.25; abs(got-want) > 1e-9 {
		t.Errorf("unstable delta = %v, want %v", got, want)
	}

	unknown := Risk(BedLegsOver, StabilityUnknown, 12)
	if got, want := unknown-base, 0.1; abs(got-want) > 1e-9 {
		t.Errorf("unknown-stability delta = %v, want %v", got, want)
	}

	night := Risk(BedLegsOver, StabilityStable, 23)
	if got, want := night-base, 0.1; abs(got-want) > 1e-9 {
		t.Errorf("night delta = %v, want %v", got, want)
	}

	dawn := Risk(BedLegsOver, StabilityStable, 5)
	if got, want := dawn-base, 0.1; abs(got-want) > 1e-9 {
		t.Errorf("dawn delta = %v, want %v", got, want)
	}
}

func TestRisk_Clamped(t *testing.T) {
	got := Risk(BedLegsOver, StabilityUnstable, 23)
	if got > 1 {
		t.Errorf("risk %v exceeds 1", got)
	}
	if got != 0.95 {
		t.Errorf("risk = %v, want 0.95 (0.6 + 0.25 + 0.1)", got)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
