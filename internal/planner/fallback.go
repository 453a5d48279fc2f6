package planner

import (
	"github.com/carewatch/guardian/internal/model"
)

// Fallback returns the deterministic fallback plan used when the planner
// is unavailable or its output is invalid after one retry.
func Fallback(motion float64, voiceEnabled bool) Plan {
	severitySeed := 3
	if motion > 0.8 {
		severitySeed = 4
	}

	actions := []model.PlanAction{
		{Type: model.ActionSendSMSPrimary, DelaySec: 0},
	}
	if voiceEnabled && severitySeed >= 4 {
		actions = append(actions, model.PlanAction{
			Type:     model.ActionStartVoiceCallPrimary,
			DelaySec: 1.0,
		})
	}

	return Plan{
		ModelUsed:         model.ModelFast,
		Verdict:           model.VerdictPossibleFall,
		SeveritySeed:      severitySeed,
		Confidence:        0.3,
		Reasons:           []string{"Fallback plan: planner unavailable or invalid"},
		Actions:           actions,
		ReplanIntervalSec: 5.0,
	}
}
