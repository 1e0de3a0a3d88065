package http

import (
	"context"
	"net/http"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/logger"
)

type leaderboardResponse struct {
	OrderedBy string              `json:"ordered_by"`
	Labels    []string            `json:"labels"`
	Entries   []leaderboard.Entry `json:"entries"`
}

func (httpserver *HttpServer) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	phaseSplitID, ok := urlParamInt64(r, "phaseSplitID")
	if !ok {
		httpjson.WriteErrorJson(w, "invalid phase split id",
			http.StatusBadRequest, "invalid_phase_split_id")
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	isHost := httpserver.viewerHostsSplit(r.Context(), claims, phaseSplitID)

	entries, schema, err := httpserver.boardSrvc.Get(r.Context(), phaseSplitID, isHost)
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	httpjson.WriteSuccessJson(w, leaderboardResponse{
		OrderedBy: schema.DefaultOrderBy,
		Labels:    schema.Labels,
		Entries:   entries,
	})
}

// viewerHostsSplit walks split -> phase -> challenge to decide whether the
// viewer hosts the challenge this split belongs to.
func (httpserver *HttpServer) viewerHostsSplit(ctx context.Context, claims *auth.JwtClaims, phaseSplitID int64) bool {
	if claims == nil {
		return false
	}
	if claims.IsHost {
		return true
	}
	ps, err := httpserver.challenges.GetPhaseSplit(ctx, phaseSplitID)
	if err != nil {
		return false
	}
	phase, err := httpserver.challenges.GetPhase(ctx, ps.PhaseID)
	if err != nil {
		return false
	}
	return httpserver.viewerIsChallengeHost(ctx, claims, phase.ChallengeID)
}
