package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carewatch/guardian/internal/model"
)

// planDTO is the strict wire schema the external VLM returns as a single
// JSON object. Enum fields are validated at parse time; unknown values
// are rejected rather than coerced.
type planDTO struct {
	Verdict           string      `json:"verdict"`
	SeveritySeed      int         `json:"severity_seed"`
	Confidence        float64     `json:"confidence"`
	Reasons           []string    `json:"reasons"`
	Actions           []actionDTO `json:"actions"`
	ReplanIntervalSec float64     `json:"replan_interval_s"`
}

type actionDTO struct {
	Type    string                 `json:"type"`
	DelaySec float64               `json:"delay_s"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type bedAssessmentDTO struct {
	BedState  string `json:"bed_state"`
	Stability string `json:"stability"`
}

// stripFence removes a leading/trailing ```json ... ``` (or bare ```)
// fence the model may wrap its output in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParsePlan parses a planner JSON response into a Plan, validating every
// enum field against its closed set. modelUsed tags the result
// ("fast" for plan_incident, "strong" for plan_strong).
func ParsePlan(raw string, modelUsed model.ModelUsed) (Plan, error) {
	cleaned := stripFence(raw)

	var dto planDTO
	if err := json.Unmarshal([]byte(cleaned), &dto); err != nil {
		return Plan{}, fmt.Errorf("planner: invalid JSON: %w", err)
	}

	verdict := model.Verdict(dto.Verdict)
	if !verdict.Valid() {
		return Plan{}, fmt.Errorf("planner: unknown verdict %q", dto.Verdict)
	}

	if dto.SeveritySeed < 1 || dto.SeveritySeed > 5 {
		return Plan{}, fmt.Errorf("planner: severity_seed %d out of [1,5]", dto.SeveritySeed)
	}

	if dto.Confidence < 0 || dto.Confidence > 1 {
		return Plan{}, fmt.Errorf("planner: confidence %v out of [0,1]", dto.Confidence)
	}

	actions := make([]model.PlanAction, 0, len(dto.Actions))
	for _, a := range dto.Actions {
		actionType := model.ActionType(a.Type)
		if !actionType.Valid() {
			return Plan{}, fmt.Errorf("planner: unknown action type %q", a.Type)
		}
		if a.DelaySec < 0 {
			return Plan{}, fmt.Errorf("planner: negative delay_s on action %q", a.Type)
		}
		actions = append(actions, model.PlanAction{
			Type:     actionType,
			DelaySec: a.DelaySec,
			Params:   a.Params,
		})
	}

	replanInterval := dto.ReplanIntervalSec
	if replanInterval < 1.0 {
		replanInterval = 1.0
	}

	return Plan{
		ModelUsed:         modelUsed,
		Verdict:           verdict,
		SeveritySeed:      dto.SeveritySeed,
		Confidence:        dto.Confidence,
		Reasons:           dto.Reasons,
		Actions:           actions,
		ReplanIntervalSec: replanInterval,
	}, nil
}

// ParseBedAssessment parses a bed-assessment JSON response.
func ParseBedAssessment(raw string) (BedAssessment, error) {
	cleaned := stripFence(raw)

	var dto bedAssessmentDTO
	if err := json.Unmarshal([]byte(cleaned), &dto); err != nil {
		return BedAssessment{}, fmt.Errorf("planner: invalid bed assessment JSON: %w", err)
	}

	bedState := model.BedState(dto.BedState)
	switch bedState {
	case model.BedInBed, model.BedNearEdge, model.BedSittingEdge, model.BedLegsOver,
		model.BedStandingNearBed, model.BedOutOfBed, model.BedUnknown:
	default:
		return BedAssessment{}, fmt.Errorf("planner: unknown bed_state %q", dto.BedState)
	}

	stability := model.Stability(dto.Stability)
	switch stability {
	case model.StabilityStable, model.StabilityUnstable, model.StabilityUnknown:
	default:
		return BedAssessment{}, fmt.Errorf("planner: unknown stability %q", dto.Stability)
	}

	return BedAssessment{BedState: bedState, Stability: stability}, nil
}
