package planner

import (
	"github.com/carewatch/guardian/internal/model"
)

// PlanIncidentRequest is the input to plan_incident.
type PlanIncidentRequest struct {
	FramesB64      []string
	Motion         float64
	Stillness      float64
	RoomType       string
	PolicyText     string
	VoiceEnabled   bool
	IncidentState  IncidentState
	AgentNotes     []string
	Mode           Mode
}

// Mode distinguishes an incident-path call from a prevention-path call.
type Mode string

const (
	ModeIncident   Mode = "incident"
	ModePrevention Mode = "prevention"
)

// IncidentState is the subset of Incident fields the planner needs as
// context for a replan.
type IncidentState struct {
	Verdict         model.Verdict `json:"verdict"`
	SeverityCurrent int           `json:"severity_current"`
	TimeDownSec     float64       `json:"time_down_s"`
	Acknowledged    bool          `json:"acknowledged"`
	EscalationStage int           `json:"escalation_stage"`
	PlanVersion     int           `json:"plan_version"`
}

// PlanStrongRequest is the input to plan_strong.
type PlanStrongRequest struct {
	FramesB64     []string
	Motion        float64
	Stillness     float64
	CurrentPlan   model.IncidentPlan
	IncidentState IncidentState
}

// AssessBedRequest is the input to assess_bed.
type AssessBedRequest struct {
	FramesB64  []string
	BedPolygon []model.Point
	RoomType   string
}

// BedAssessment is the output of assess_bed.
type BedAssessment struct {
	BedState  model.BedState
	Stability model.Stability
}

// Plan is the parsed planner output shared by plan_incident and
// plan_strong.
type Plan struct {
	ModelUsed         model.ModelUsed    `json:"model_used,omitempty"`
	Verdict           model.Verdict      `json:"verdict"`
	SeveritySeed      int                `json:"severity_seed"`
	Confidence        float64            `json:"confidence"`
	Reasons           []string           `json:"reasons"`
	Actions           []model.PlanAction `json:"actions"`
	ReplanIntervalSec float64            `json:"replan_interval_s"`
}

// NeedsStrongVerify mirrors model.IncidentPlan.NeedsStrongVerify for a
// not-yet-persisted Plan.
func (p Plan) NeedsStrongVerify() bool {
	if p.Verdict == model.VerdictPossibleFall && p.Confidence < 0.6 {
		return true
	}
	if p.SeveritySeed >= 4 && p.Confidence < 0.7 {
		return true
	}
	return false
}
