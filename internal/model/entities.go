package model

import "time"

// CameraConfig holds the recognized camera config mapping keys. Zero
// values mean "unset"; defaults are applied by the consumer, not here.
type CameraConfig struct {
	MotionSpikeThreshold float64       `json:"motion_spike_threshold,omitempty" yaml:"motion_spike_threshold,omitempty"`
	StillnessThreshold   float64       `json:"stillness_threshold,omitempty" yaml:"stillness_threshold,omitempty"`
	RiskThresholdLow     float64       `json:"risk_threshold_low,omitempty" yaml:"risk_threshold_low,omitempty"`
	RiskThresholdHigh    float64       `json:"risk_threshold_high,omitempty" yaml:"risk_threshold_high,omitempty"`
	EscalationDelaySec   float64       `json:"escalation_delay_s,omitempty" yaml:"escalation_delay_s,omitempty"`
	CheckIntervalSec     float64       `json:"check_interval_s,omitempty" yaml:"check_interval_s,omitempty"`
}

// ConfigKeys lists the whitelist a config patch is validated against.
var ConfigKeys = map[string]bool{
	"motion_spike_threshold": true,
	"stillness_threshold":    true,
	"risk_threshold_low":     true,
	"risk_threshold_high":    true,
	"escalation_delay_s":     true,
	"check_interval_s":       true,
}

// Point is a single vertex of a Camera.BedPolygon.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Camera is a monitored endpoint.
type Camera struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RoomType        string    `json:"room_type"`
	BedPolygon      []Point   `json:"bed_polygon,omitempty"`
	PrimaryContact  string    `json:"primary_contact"`
	BackupContact   string    `json:"backup_contact"`
	VoiceEnabled    bool      `json:"voice_enabled"`
	SMSEnabled      bool      `json:"sms_enabled"`
	RiskScore       float64   `json:"risk_score"`
	LastSeen        time.Time `json:"last_seen"`
	Config          CameraConfig `json:"config"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ValidBedPolygon reports whether the bed polygon, if set, has at least 3
// ordered points.
func (c Camera) ValidBedPolygon() bool {
	return len(c.BedPolygon) == 0 || len(c.BedPolygon) >= 3
}

// NotificationPolicy is the per-camera escalation/cooldown policy.
type NotificationPolicy struct {
	CameraID               string  `json:"camera_id" db:"camera_id"`
	SMSEnabled             bool    `json:"sms_enabled" db:"sms_enabled"`
	VoiceEnabled           bool    `json:"voice_enabled" db:"voice_enabled"`
	EscalationDelaySec     float64 `json:"escalation_delay_s" db:"escalation_delay_s"`
	CooldownContactSec     float64 `json:"cooldown_contact_s" db:"cooldown_contact_s"`
	MaxPrimaryCallAttempts int     `json:"max_primary_call_attempts" db:"max_primary_call_attempts"`
}

// DefaultNotificationPolicy returns the defaults for a fresh camera.
func DefaultNotificationPolicy(cameraID string) NotificationPolicy {
	return NotificationPolicy{
		CameraID:               cameraID,
		SMSEnabled:             true,
		VoiceEnabled:           true,
		EscalationDelaySec:     60,
		CooldownContactSec:     5,
		MaxPrimaryCallAttempts: 2,
	}
}

// Incident is one active fall/edge event per camera.
type Incident struct {
	ID               string         `json:"id"`
	CameraID         string         `json:"camera_id"`
	CreatedAt        time.Time      `json:"created_at"`
	Status           IncidentStatus `json:"status"`
	Verdict          Verdict        `json:"verdict"`
	SeveritySeed     int            `json:"severity_seed"`
	SeverityCurrent  int            `json:"severity_current"`
	RiskScore        float64        `json:"risk_score"`
	Confidence       float64        `json:"confidence"`
	TimeDownSec      float64        `json:"time_down_s"`
	Acknowledged     bool           `json:"acknowledged"`
	AckBy            string         `json:"ack_by,omitempty"`
	EscalationStage  int            `json:"escalation_stage"`
	PlanVersion      int            `json:"plan_version"`
	ReasonsCurrent   []string       `json:"reasons_current,omitempty"`
	Language         string         `json:"language,omitempty"`
	SummaryText      string         `json:"summary_text,omitempty"`
	FramesB64        []string       `json:"frames_b64,omitempty"`
}

// MaxRetainedFrames bounds Incident.FramesB64.
const MaxRetainedFrames = 4

// AppendFrame appends a frame, trimming the oldest once the retention
// limit is exceeded.
func (inc *Incident) AppendFrame(frameB64 string) {
	inc.FramesB64 = append(inc.FramesB64, frameB64)
	if len(inc.FramesB64) > MaxRetainedFrames {
		inc.FramesB64 = inc.FramesB64[len(inc.FramesB64)-MaxRetainedFrames:]
	}
}

// PlanAction is a single action proposed by a plan.
type PlanAction struct {
	Type    ActionType             `json:"type"`
	DelaySec float64               `json:"delay_s"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// IntervalSeconds reads params.interval_s defensively, returning def when
// absent or not numeric.
func (a PlanAction) IntervalSeconds(def float64) float64 {
	if a.Params == nil {
		return def
	}
	switch v := a.Params["interval_s"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// IncidentPlan is an immutable record of one planner output.
type IncidentPlan struct {
	ID               string       `json:"id"`
	IncidentID       string       `json:"incident_id"`
	Version          int          `json:"version"`
	ModelUsed        ModelUsed    `json:"model_used"`
	Verdict          Verdict      `json:"verdict"`
	SeveritySeed     int          `json:"severity_seed"`
	Confidence       float64      `json:"confidence"`
	Reasons          []string     `json:"reasons"`
	Actions          []PlanAction `json:"actions"`
	ReplanIntervalSec float64     `json:"replan_interval_s"`
	CreatedAt        time.Time    `json:"created_at"`
}

// NeedsStrongVerify reports whether the plan warrants a second pass by
// the strong model: a low-confidence possible fall, or a high severity
// seed without the confidence to match.
func (p IncidentPlan) NeedsStrongVerify() bool {
	if p.Verdict == VerdictPossibleFall && p.Confidence < 0.6 {
		return true
	}
	if p.SeveritySeed >= 4 && p.Confidence < 0.7 {
		return true
	}
	return false
}

// TimelineEvent is an append-only incident timeline entry.
type TimelineEvent struct {
	ID         string                 `json:"id"`
	IncidentID string                 `json:"incident_id"`
	CameraID   string                 `json:"camera_id"`
	Kind       TimelineEventKind      `json:"kind"`
	Sequence   int64                  `json:"sequence"`
	Timestamp  time.Time              `json:"ts"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// ActionLog is a single executed-action record.
type ActionLog struct {
	ID         string                 `json:"id"`
	IncidentID string                 `json:"incident_id"`
	CameraID   string                 `json:"camera_id"`
	ActionType ActionType             `json:"action_type"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Result     string                 `json:"result"`
	Timestamp  time.Time              `json:"ts"`
}

// AgentNote is a free-text caregiver instruction.
type AgentNote struct {
	ID         string    `json:"id"`
	CameraID   string    `json:"camera_id,omitempty"` // empty = global
	Priority   int       `json:"priority"`
	Text       string    `json:"text"`
	Watchlist  []string  `json:"watchlist,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the note has not yet expired.
func (n AgentNote) Active(now time.Time) bool {
	return n.ExpiresAt.After(now)
}

// OnboardingConfig captures the contact details and monitoring type
// collected during setup, before any camera exists. Camera registration
// falls back to the latest record when the request carries no contacts.
type OnboardingConfig struct {
	ID             string    `json:"id" db:"id"`
	MonitoringType string    `json:"monitoring_type" db:"monitoring_type"`
	PrimaryContact string    `json:"primary_contact" db:"primary_contact"`
	BackupContact  string    `json:"backup_contact" db:"backup_contact"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ConfigUpdate records an applied config suggestion.
type ConfigUpdate struct {
	ID          string    `json:"id" db:"id"`
	CameraID    string    `json:"camera_id" db:"camera_id"`
	Reason      string    `json:"reason" db:"reason"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	ConfigJSON  string    `json:"config_json" db:"config_json"`
	Applied     bool      `json:"applied" db:"applied"`
	RolledBack  bool      `json:"rolled_back" db:"rolled_back"`
	Timestamp   time.Time `json:"ts" db:"ts"`
}
