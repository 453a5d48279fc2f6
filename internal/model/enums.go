package model

// IncidentStatus is the lifecycle status of an Incident.
type IncidentStatus string

const (
	StatusActive IncidentStatus = "ACTIVE"
	StatusAcked  IncidentStatus = "ACKED"
	StatusClosed IncidentStatus = "CLOSED"
)

// Valid reports whether s is one of the recognized statuses.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusAcked, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further state changes.
func (s IncidentStatus) Terminal() bool {
	return s == StatusAcked || s == StatusClosed
}

// Verdict is the planner/fallback assessment of an incident.
type Verdict string

const (
	VerdictNoIncident     Verdict = "NO_INCIDENT"
	VerdictPossibleFall   Verdict = "POSSIBLE_FALL"
	VerdictConfirmedFall  Verdict = "CONFIRMED_FALL"
	VerdictFalseAlarm     Verdict = "FALSE_ALARM"
)

// Valid reports whether v is one of the recognized verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictNoIncident, VerdictPossibleFall, VerdictConfirmedFall, VerdictFalseAlarm:
		return true
	}
	return false
}

// ModelUsed identifies which planner tier produced an IncidentPlan.
type ModelUsed string

const (
	ModelFast        ModelUsed = "fast"
	ModelStrong      ModelUsed = "strong"
	ModelVideoUpload ModelUsed = "video_upload"
)

// ActionType enumerates the PlanAction.Type closed set.
type ActionType string

const (
	ActionIncreaseCheckRate      ActionType = "INCREASE_CHECK_RATE"
	ActionSendLowPriorityHeadsup ActionType = "SEND_LOW_PRIORITY_HEADSUP"
	ActionSendSMSPrimary         ActionType = "SEND_SMS_PRIMARY"
	ActionStartVoiceCallPrimary  ActionType = "START_VOICE_CALL_PRIMARY"
	ActionEscalateToBackup       ActionType = "ESCALATE_TO_BACKUP"
	ActionCancelEscalation       ActionType = "CANCEL_ESCALATION"
	ActionCloseIncident          ActionType = "CLOSE_INCIDENT"
	ActionRequestStrongVerify    ActionType = "REQUEST_STRONG_VERIFY"
)

// Valid reports whether a is one of the closed set of action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionIncreaseCheckRate, ActionSendLowPriorityHeadsup, ActionSendSMSPrimary,
		ActionStartVoiceCallPrimary, ActionEscalateToBackup, ActionCancelEscalation,
		ActionCloseIncident, ActionRequestStrongVerify:
		return true
	}
	return false
}

// IsContactClass reports whether a action type is rate-limited by the
// Safety Guard's contact cooldown.
func (a ActionType) IsContactClass() bool {
	switch a {
	case ActionSendSMSPrimary, ActionStartVoiceCallPrimary, ActionSendLowPriorityHeadsup:
		return true
	}
	return false
}

// TimelineEventKind enumerates the IncidentTimeline.Kind closed set.
type TimelineEventKind string

const (
	EventTriggerReceived        TimelineEventKind = "TRIGGER_RECEIVED"
	EventBedAssessment          TimelineEventKind = "BED_ASSESSMENT"
	EventRiskUpdated            TimelineEventKind = "RISK_UPDATED"
	EventPlanCreated            TimelineEventKind = "PLAN_CREATED"
	EventPlanApproved           TimelineEventKind = "PLAN_APPROVED"
	EventPlanFailed             TimelineEventKind = "PLAN_FAILED"
	EventActionExecuted         TimelineEventKind = "ACTION_EXECUTED"
	EventReplan                 TimelineEventKind = "REPLAN"
	EventSeverityTick           TimelineEventKind = "SEVERITY_TICK"
	EventEscalation             TimelineEventKind = "ESCALATION"
	EventAckReceived            TimelineEventKind = "ACK_RECEIVED"
	EventClosed                 TimelineEventKind = "CLOSED"
	EventAgentNoteCreated       TimelineEventKind = "AGENT_NOTE_CREATED"
	EventConfigSuggestionApplied TimelineEventKind = "CONFIG_SUGGESTION_APPLIED"
	EventTranslated             TimelineEventKind = "TRANSLATED"
	EventTTSGenerated           TimelineEventKind = "TTS_GENERATED"
)

// TriggerKind identifies the source of an incident-creating trigger.
type TriggerKind string

const (
	TriggerFall        TriggerKind = "FALL"
	TriggerEdge        TriggerKind = "EDGE"
	TriggerFallTrigger TriggerKind = "FALL_TRIGGER"
)

// BedState is the planner's bed-assessment classification.
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

// Stability is the planner's motion-stability classification.
type Stability string

const (
	StabilityStable   Stability = "STABLE"
	StabilityUnstable Stability = "UNSTABLE"
	StabilityUnknown  Stability = "UNKNOWN"
)
