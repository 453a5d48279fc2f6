// Package guard implements the deterministic Safety Guard: the stateful
// per-camera filter every proposed action list must pass through before
// the Action Executor is allowed to dispatch it.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/carewatch/guardian/internal/model"
)

// Capabilities is the camera/incident context the guard evaluates actions
// against.
type Capabilities struct {
	Acked                  bool
	VoiceEnabled           bool
	SMSEnabled             bool
	EscalationStage        int
	CooldownContactSec     float64
	MaxPrimaryCallAttempts int
	MaxEscalationStage     int
}

// DefaultCapabilities fills in the policy defaults for any zero fields.
func DefaultCapabilities(c Capabilities) Capabilities {
	if c.CooldownContactSec <= 0 {
		c.CooldownContactSec = 5
	}
	if c.MaxPrimaryCallAttempts <= 0 {
		c.MaxPrimaryCallAttempts = 2
	}
	if c.MaxEscalationStage <= 0 {
		c.MaxEscalationStage = 2
	}
	return c
}

// Decision records the admission outcome for a single proposed action.
type Decision struct {
	ActionType model.ActionType
	Approved   bool
	Reason     string
}

type cameraState struct {
	lastContact       time.Time
	primaryCallCount  int
}

// Guard is the process-wide, per-camera admission filter. Writes to a
// camera's state are serialized under the mutex. It is an explicit,
// constructed value owned by the caller (typically one shared instance
// across controller and router) rather than a package-level global.
type Guard struct {
	mu     sync.Mutex
	states map[string]*cameraState
}

// New creates an empty Guard.
func New() *Guard {
	return &Guard{states: make(map[string]*cameraState)}
}

func (g *Guard) stateFor(cameraID string) *cameraState {
	st, ok := g.states[cameraID]
	if !ok {
		st = &cameraState{}
		g.states[cameraID] = st
	}
	return st
}

// Approve filters actions against the admission rules, in list order, and
// returns the approved subset alongside a Decision per input action. now
// is injected (rather than read from time.Now internally) so tests are
// deterministic.
func (g *Guard) Approve(now time.Time, cameraID string, actions []model.PlanAction, caps Capabilities) ([]model.PlanAction, []Decision) {
	caps = DefaultCapabilities(caps)

	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateFor(cameraID)

	approved := make([]model.PlanAction, 0, len(actions))
	decisions := make([]Decision, 0, len(actions))

	for _, action := range actions {
		d := Decision{ActionType: action.Type, Approved: true}

		switch action.Type {
		case model.ActionCloseIncident, model.ActionCancelEscalation:
			// Always approved.

		case model.ActionStartVoiceCallPrimary:
			if !caps.VoiceEnabled {
				d.Approved = false
				d.Reason = "Voice disabled for this camera"
				break
			}
			if st.primaryCallCount >= caps.MaxPrimaryCallAttempts {
				d.Approved = false
				d.Reason = fmt.Sprintf("Primary call attempts exhausted (%d/%d)", st.primaryCallCount, caps.MaxPrimaryCallAttempts)
				break
			}
			if cooldownActive(now, st.lastContact, caps.CooldownContactSec) {
				d.Approved = false
				d.Reason = cooldownReason(now, st.lastContact, caps.CooldownContactSec)
			}

		case model.ActionSendSMSPrimary:
			if !caps.SMSEnabled {
				d.Approved = false
				d.Reason = "SMS disabled for this camera"
				break
			}
			if cooldownActive(now, st.lastContact, caps.CooldownContactSec) {
				d.Approved = false
				d.Reason = cooldownReason(now, st.lastContact, caps.CooldownContactSec)
			}

		case model.ActionSendLowPriorityHeadsup:
			if cooldownActive(now, st.lastContact, caps.CooldownContactSec) {
				d.Approved = false
				d.Reason = cooldownReason(now, st.lastContact, caps.CooldownContactSec)
			}

		case model.ActionEscalateToBackup:
			if caps.Acked {
				d.Approved = false
				d.Reason = "Incident already acknowledged"
				break
			}
			if caps.EscalationStage >= caps.MaxEscalationStage {
				d.Approved = false
				d.Reason = fmt.Sprintf("Escalation stage already at cap (%d)", caps.MaxEscalationStage)
			}

		default:
			// INCREASE_CHECK_RATE, REQUEST_STRONG_VERIFY and any other
			// non-contact action type: always approved, no side state.
		}

		if d.Approved {
			if action.Type.IsContactClass() || action.Type == model.ActionEscalateToBackup {
				st.lastContact = now
			}
			if action.Type == model.ActionStartVoiceCallPrimary {
				st.primaryCallCount++
			}
			approved = append(approved, action)
		}

		decisions = append(decisions, d)
	}

	return approved, decisions
}

func cooldownActive(now, lastContact time.Time, cooldownSec float64) bool {
	if lastContact.IsZero() {
		return false
	}
	return now.Sub(lastContact) < time.Duration(cooldownSec*float64(time.Second))
}

func cooldownReason(now, lastContact time.Time, cooldownSec float64) string {
	elapsed := now.Sub(lastContact).Seconds()
	return fmt.Sprintf("Contact cooldown active (%.1fs elapsed, %.1fs required)", elapsed, cooldownSec)
}

// Reset clears guard state for a camera; invoked on ACK, CLOSED, or
// FALSE_ALARM.
func (g *Guard) Reset(cameraID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, cameraID)
}

// PrimaryCallCount reports the current approved voice-call count for a
// camera, for observability/testing.
func (g *Guard) PrimaryCallCount(cameraID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[cameraID]; ok {
		return st.primaryCallCount
	}
	return 0
}
