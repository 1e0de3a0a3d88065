package http

import (
	"net/http"
	"strconv"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/logger"
)

func (httpserver *HttpServer) listSubmissions(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		httpjson.WriteErrorJson(w, "authentication required",
			http.StatusUnauthorized, "unauthenticated")
		return
	}

	phaseID, err := strconv.ParseInt(r.URL.Query().Get("phase_id"), 10, 64)
	if err != nil {
		httpjson.WriteErrorJson(w, "phase_id query parameter is required",
			http.StatusBadRequest, "missing_phase_id")
		return
	}

	phase, err := httpserver.challenges.GetPhase(r.Context(), phaseID)
	if err != nil {
		httpjson.WriteErrorJson(w, "challenge phase does not exist",
			http.StatusNotFound, "phase_not_found")
		return
	}
	isHost := httpserver.viewerIsChallengeHost(r.Context(), claims, phase.ChallengeID)

	subs, err := httpserver.submSrvc.List(r.Context(), phaseID, claims.TeamID, isHost)
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	out := make([]Subm, 0, len(subs))
	for _, sub := range subs {
		out = append(out, httpserver.mapSubm(sub, isHost))
	}
	httpjson.WriteSuccessJson(w, out)
}
