package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/httpjson"
	"github.com/kaggleboard/backend/logger"
	"github.com/kaggleboard/backend/submission"
)

// maxSubmissionUploadBytes bounds the multipart body. Larger outputs belong
// in container submissions.
const maxSubmissionUploadBytes = 512 << 20

func (httpserver *HttpServer) createSubmission(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		httpjson.WriteErrorJson(w, "authentication required",
			http.StatusUnauthorized, "unauthenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httpjson.WriteErrorJson(w, "malformed multipart request",
			http.StatusBadRequest, "bad_multipart")
		return
	}

	challengeID, ok := formInt64(r, "challenge_id")
	if !ok {
		httpjson.WriteErrorJson(w, "challenge_id is required",
			http.StatusBadRequest, "missing_challenge_id")
		return
	}
	phaseID, ok := formInt64(r, "phase_id")
	if !ok {
		httpjson.WriteErrorJson(w, "phase_id is required",
			http.StatusBadRequest, "missing_phase_id")
		return
	}

	file, header, err := r.FormFile("input_file")
	if err != nil {
		httpjson.WriteErrorJson(w, "input_file is required",
			http.StatusBadRequest, "missing_input_file")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		httpjson.WriteErrorJson(w, "failed to read input_file",
			http.StatusBadRequest, "unreadable_input_file")
		return
	}

	metadata := map[string]string{}
	for key, vals := range r.MultipartForm.Value {
		if len(key) > 5 && key[:5] == "meta_" && len(vals) > 0 {
			metadata[key[5:]] = vals[0]
		}
	}

	sub, err := httpserver.submSrvc.Create(r.Context(), submission.CreateParams{
		TeamID:            claims.TeamID,
		ChallengeID:       challengeID,
		PhaseID:           phaseID,
		FileName:          header.Filename,
		File:              content,
		MethodName:        r.FormValue("method_name"),
		MethodDescription: r.FormValue("method_description"),
		Metadata:          metadata,
		IsPublic:          r.FormValue("is_public") == "true",
		SubmittedImageURI: r.FormValue("submitted_image_uri"),
	})
	if err != nil {
		httpjson.HandleError(log, w, err)
		return
	}

	isHost := httpserver.viewerIsChallengeHost(r.Context(), claims, sub.ChallengeID)
	httpjson.WriteJsonWithStatus(w, httpserver.mapSubm(*sub, isHost), http.StatusCreated)
}

func formInt64(r *http.Request, name string) (int64, bool) {
	val, err := strconv.ParseInt(r.FormValue(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
