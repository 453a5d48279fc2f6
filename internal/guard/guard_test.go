package guard

import (
	"testing"
	"time"

	"github.com/carewatch/guardian/internal/model"
	"github.com/stretchr/testify/require"
)

func caps() Capabilities {
	return Capabilities{VoiceEnabled: true, SMSEnabled: true}
}

func TestApprove_CloseAndCancelAlwaysApproved(t *testing.T) {
	g := New()
	now := time.Now()
	actions := []model.PlanAction{
		{Type: model.ActionCloseIncident},
		{Type: model.ActionCancelEscalation},
	}
	approved, decisions := g.Approve(now, "cam-1", actions, caps())
	require.Len(t, approved, 2)
	for _, d := range decisions {
		require.True(t, d.Approved)
	}
}

func TestApprove_ContactCooldown(t *testing.T) {
	g := New()
	now := time.Now()
	c := caps()
	c.CooldownContactSec = 5

	first, firstDecisions := g.Approve(now, "cam-2", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)
	require.Len(t, first, 1)
	require.True(t, firstDecisions[0].Approved)

	withinCooldown := now.Add(2 * time.Second)
	second, secondDecisions := g.Approve(withinCooldown, "cam-2", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)
	require.Len(t, second, 0)
	require.False(t, secondDecisions[0].Approved)
	require.Contains(t, secondDecisions[0].Reason, "cooldown")

	afterCooldown := now.Add(6 * time.Second)
	third, thirdDecisions := g.Approve(afterCooldown, "cam-2", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)
	require.Len(t, third, 1)
	require.True(t, thirdDecisions[0].Approved)
}

func TestApprove_VoiceDisabled(t *testing.T) {
	g := New()
	c := caps()
	c.VoiceEnabled = false
	now := time.Now()

	approved, decisions := g.Approve(now, "cam-3", []model.PlanAction{
		{Type: model.ActionSendSMSPrimary},
		{Type: model.ActionStartVoiceCallPrimary},
	}, c)

	require.Len(t, approved, 1)
	require.Equal(t, model.ActionSendSMSPrimary, approved[0].Type)
	require.False(t, decisions[1].Approved)
	require.Equal(t, "Voice disabled for this camera", decisions[1].Reason)
}

func TestApprove_MaxPrimaryCallAttempts(t *testing.T) {
	g := New()
	c := caps()
	c.MaxPrimaryCallAttempts = 2
	c.CooldownContactSec = 0

	base := time.Now()
	for i := 0; i < 2; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		approved, _ := g.Approve(now, "cam-4", []model.PlanAction{{Type: model.ActionStartVoiceCallPrimary}}, c)
		require.Len(t, approved, 1)
	}

	now := base.Add(2 * time.Minute)
	approved, decisions := g.Approve(now, "cam-4", []model.PlanAction{{Type: model.ActionStartVoiceCallPrimary}}, c)
	require.Len(t, approved, 0)
	require.False(t, decisions[0].Approved)
	require.Equal(t, 2, g.PrimaryCallCount("cam-4"))
}

func TestApprove_EscalationCapAndAck(t *testing.T) {
	g := New()
	now := time.Now()

	c := caps()
	c.Acked = true
	_, decisions := g.Approve(now, "cam-5", []model.PlanAction{{Type: model.ActionEscalateToBackup}}, c)
	require.False(t, decisions[0].Approved)
	require.Equal(t, "Incident already acknowledged", decisions[0].Reason)

	c.Acked = false
	c.EscalationStage = 2
	c.MaxEscalationStage = 2
	_, decisions = g.Approve(now, "cam-5", []model.PlanAction{{Type: model.ActionEscalateToBackup}}, c)
	require.False(t, decisions[0].Approved)
}

func TestReset_ClearsState(t *testing.T) {
	g := New()
	now := time.Now()
	c := caps()
	c.CooldownContactSec = 60

	g.Approve(now, "cam-6", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)
	g.Reset("cam-6")

	approved, decisions := g.Approve(now.Add(time.Second), "cam-6", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)
	require.Len(t, approved, 1)
	require.True(t, decisions[0].Approved)
	require.Equal(t, 0, g.PrimaryCallCount("cam-6"))
}

// Of two contact-class actions on the same camera whose approval
// timestamps differ by less than cooldown_contact_s, at most one is
// approved.
func TestApprove_OneOfTwoContactActionsWithinWindow(t *testing.T) {
	g := New()
	c := caps()
	c.CooldownContactSec = 5
	base := time.Now()

	_, d1 := g.Approve(base, "cam-7", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)
	_, d2 := g.Approve(base.Add(3*time.Second), "cam-7", []model.PlanAction{{Type: model.ActionSendSMSPrimary}}, c)

	approvedCount := 0
	if d1[0].Approved {
		approvedCount++
	}
	if d2[0].Approved {
		approvedCount++
	}
	require.Equal(t, 1, approvedCount)
}
