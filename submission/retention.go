package submission

import (
	"time"

	"github.com/kaggleboard/backend/challenge"
)

const retentionGraceDays = 30

// RetentionEligibleDate computes when a terminal submission's artifacts
// become eligible for cleanup. Public phases retain artifacts until well
// after the phase closes so hosts can audit the board; private phases only
// need them for a while after completion.
//
// This is deliberately a plain function of (phase, completion time) so the
// recomputation is auditable, instead of a save-hook side effect.
func RetentionEligibleDate(phase challenge.Phase, completedAt time.Time) time.Time {
	if phase.IsPublic {
		return phase.EndDate.AddDate(0, 0, retentionGraceDays)
	}
	return completedAt.AddDate(0, 0, retentionGraceDays)
}
