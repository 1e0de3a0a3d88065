package http

import (
	"net/http"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/logger"
)

func (httpserver *HttpServer) getSubmission(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := urlParamInt64(r, "submissionID")
	if !ok {
		httpjson.WriteErrorJson(w, "invalid submission id",
			http.StatusBadRequest, "invalid_submission_id")
		return
	}

	sub, err := httpserver.submSrvc.Get(r.Context(), id)
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	isHost := httpserver.viewerIsChallengeHost(r.Context(), claims, sub.ChallengeID)
	isOwner := claims != nil && claims.TeamID == sub.TeamID

	// Non-owners see public submissions only, and hosts see everything in
	// their challenge. 404 rather than 403 so that private submission ids
	// are not probeable.
	if !isOwner && !isHost && !sub.IsPublic {
		httpjson.WriteErrorJson(w, "submission does not exist",
			http.StatusNotFound, "submission_not_found")
		return
	}

	httpjson.WriteSuccessJson(w, httpserver.mapSubm(*sub, isHost))
}
