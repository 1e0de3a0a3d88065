package http

import (
	"net/http"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/logger"
)

func (httpserver *HttpServer) cancelSubmission(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		httpjson.WriteErrorJson(w, "authentication required",
			http.StatusUnauthorized, "unauthenticated")
		return
	}

	id, ok := urlParamInt64(r, "submissionID")
	if !ok {
		httpjson.WriteErrorJson(w, "invalid submission id",
			http.StatusBadRequest, "invalid_submission_id")
		return
	}

	if err := httpserver.submSrvc.Cancel(r.Context(), id, claims.TeamID); err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	sub, err := httpserver.submSrvc.Get(r.Context(), id)
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}
	httpjson.WriteSuccessJson(w, httpserver.mapSubm(*sub, false))
}
