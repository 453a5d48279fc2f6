package controller

import (
	"fmt"
	"strings"

	"github.com/carewatch/guardian/internal/model"
)

// summary composes the incident's one-sentence human-readable status,
// refreshed on every severity tick and replan.
func summary(inc model.Incident) string {
	ackState := "not yet acknowledged"
	if inc.Acknowledged {
		ackState = "acknowledged"
	}

	reasons := inc.ReasonsCurrent
	if len(reasons) > 3 {
		reasons = reasons[:3]
	}

	return fmt.Sprintf(
		"%s detected (severity %d/5). Time since event: %.0fs. %s. Escalation stage %d. Status: %s.",
		inc.Verdict, inc.SeverityCurrent, inc.TimeDownSec, strings.Join(reasons, "; "), inc.EscalationStage, ackState,
	)
}
