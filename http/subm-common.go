package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/submission"
)

type Subm struct {
	ID               int64  `json:"id"`
	SubmissionNumber int    `json:"submission_number"`
	ChallengeID      int64  `json:"challenge_id"`
	PhaseID          int64  `json:"phase_id"`
	TeamID           int64  `json:"team_id"`
	Status           string `json:"status"`
	IsPublic         bool   `json:"is_public"`

	SubmittedAt    time.Time  `json:"submitted_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	WhenMadePublic *time.Time `json:"when_made_public,omitempty"`

	MethodName        string `json:"method_name,omitempty"`
	MethodDescription string `json:"method_description,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`

	InputFileURL  string `json:"input_file_url,omitempty"`
	StdoutFileURL string `json:"stdout_file_url,omitempty"`
	StderrFileURL string `json:"stderr_file_url,omitempty"`
	ResultFileURL string `json:"result_file_url,omitempty"`

	// MetadataFileURL points at the unfiltered result artifact. Host only.
	MetadataFileURL string `json:"metadata_file_url,omitempty"`
}

// mapSubm builds the response view of a submission. The host sees the full
// artifact set; everyone else gets the participant-filtered artifacts, and
// deleted artifacts resolve to nothing at all.
func (httpserver *HttpServer) mapSubm(s submission.Submission, viewerIsHost bool) Subm {
	out := Subm{
		ID:                s.ID,
		SubmissionNumber:  s.SubmissionNumber,
		ChallengeID:       s.ChallengeID,
		PhaseID:           s.PhaseID,
		TeamID:            s.TeamID,
		Status:            string(s.Status),
		IsPublic:          s.IsPublic,
		SubmittedAt:       s.SubmittedAt,
		StartedAt:         s.StartedAt,
		CompletedAt:       s.CompletedAt,
		WhenMadePublic:    s.WhenMadePublic,
		MethodName:        s.MethodName,
		MethodDescription: s.MethodDescription,
		FailureReason:     s.FailureReason,
	}
	if s.ArtifactsDeleted {
		return out
	}
	out.InputFileURL = httpserver.resolver.Resolve(s.InputKey)
	out.StdoutFileURL = httpserver.resolver.Resolve(s.StdoutKey)
	out.StderrFileURL = httpserver.resolver.Resolve(s.StderrKey)
	out.ResultFileURL = httpserver.resolver.Resolve(s.ResultKey)
	if viewerIsHost {
		out.MetadataFileURL = httpserver.resolver.Resolve(s.MetadataKey)
	}
	return out
}

// viewerIsChallengeHost reports whether the claims belong to the team hosting
// the given challenge. A platform-wide host claim also qualifies.
func (httpserver *HttpServer) viewerIsChallengeHost(ctx context.Context, claims *auth.JwtClaims, challengeID int64) bool {
	if claims == nil {
		return false
	}
	if claims.IsHost {
		return true
	}
	ch, err := httpserver.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return false
	}
	return ch.HostTeamID == claims.TeamID
}

func urlParamInt64(r *http.Request, name string) (int64, bool) {
	val, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
