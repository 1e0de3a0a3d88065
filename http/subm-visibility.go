package http

import (
	"encoding/json"
	"net/http"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/logger"
)

func (httpserver *HttpServer) setSubmissionVisibility(w http.ResponseWriter, r *http.Request) {
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

	var body struct {
		IsPublic *bool `json:"is_public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IsPublic == nil {
		httpjson.WriteErrorJson(w, "is_public boolean is required",
			http.StatusBadRequest, "missing_is_public")
		return
	}

	if err := httpserver.submSrvc.SetVisibility(r.Context(), id, claims.TeamID, *body.IsPublic); err != nil {
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
