package submission

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kaggleboard/backend/srvcerror"
)

const (
	ErrCodePhaseNotFound      = "phase_not_found"
	ErrCodeChallengeInactive  = "challenge_inactive"
	ErrCodePhaseInactive      = "phase_inactive"
	ErrCodePhaseNotPublic     = "phase_not_public"
	ErrCodeConcurrentLimit    = "concurrent_submission_limit"
	ErrCodeDailyLimit         = "daily_submission_limit"
	ErrCodeTotalLimit         = "total_submission_limit"
	ErrCodeTransferFailed     = "input_transfer_failed"
	ErrCodePublishFailed      = "queue_publish_failed"
	ErrCodeSubmissionNotFound = "submission_not_found"
	ErrCodeInvalidStateForOp  = "invalid_submission_state"
	ErrCodeNotSubmissionOwner = "not_submission_owner"
)

func ErrPhaseNotFound() *srvcerror.Error {
	return srvcerror.New(ErrCodePhaseNotFound,
		"challenge phase does not exist for this challenge",
	).SetHttpStatusCode(http.StatusNotFound)
}

func ErrChallengeInactive() *srvcerror.Error {
	return srvcerror.New(ErrCodeChallengeInactive,
		"challenge is not active",
	).SetHttpStatusCode(http.StatusForbidden)
}

func ErrPhaseInactive() *srvcerror.Error {
	return srvcerror.New(ErrCodePhaseInactive,
		"challenge phase is not open for submissions",
	).SetHttpStatusCode(http.StatusForbidden)
}

func ErrPhaseNotPublic() *srvcerror.Error {
	return srvcerror.New(ErrCodePhaseNotPublic,
		"challenge phase is not public",
	).SetHttpStatusCode(http.StatusForbidden)
}

func ErrConcurrentLimit(limit int) *srvcerror.Error {
	return srvcerror.New(ErrCodeConcurrentLimit,
		fmt.Sprintf("you already have %d submissions being processed for this phase, please wait for them to finish", limit),
	).SetHttpStatusCode(http.StatusTooManyRequests)
}

// ErrDailyLimit reports daily quota exhaustion with the time left until the
// quota resets at midnight UTC.
func ErrDailyLimit(untilReset time.Duration) *srvcerror.Error {
	return srvcerror.New(ErrCodeDailyLimit,
		fmt.Sprintf("the daily submission limit is exhausted, you can submit again in %s", untilReset.Round(time.Second)),
	).SetHttpStatusCode(http.StatusTooManyRequests)
}

func ErrTotalLimit() *srvcerror.Error {
	return srvcerror.New(ErrCodeTotalLimit,
		"the maximum number of submissions for this phase is exhausted",
	).SetHttpStatusCode(http.StatusTooManyRequests)
}

func ErrTransferFailed() *srvcerror.Error {
	return srvcerror.New(ErrCodeTransferFailed,
		"failed to store the submission input file",
	).SetHttpStatusCode(http.StatusBadGateway)
}

func ErrPublishFailed() *srvcerror.Error {
	return srvcerror.New(ErrCodePublishFailed,
		"submission was recorded but could not be queued for evaluation, it will be re-queued by an operator",
	).SetHttpStatusCode(http.StatusBadGateway)
}

func ErrSubmissionNotFound() *srvcerror.Error {
	return srvcerror.New(ErrCodeSubmissionNotFound,
		"submission does not exist",
	).SetHttpStatusCode(http.StatusNotFound)
}

func ErrInvalidStateForOp(msg string) *srvcerror.Error {
	return srvcerror.New(ErrCodeInvalidStateForOp, msg).
		SetHttpStatusCode(http.StatusConflict)
}

func ErrNotSubmissionOwner() *srvcerror.Error {
	return srvcerror.New(ErrCodeNotSubmissionOwner,
		"submission belongs to another team",
	).SetHttpStatusCode(http.StatusForbidden)
}
