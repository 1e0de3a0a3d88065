package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/kaggleboard/backend/auth"
	"github.com/kaggleboard/backend/blobref"
	"github.com/kaggleboard/backend/challenge"
	"github.com/kaggleboard/backend/evalrunner"
	"github.com/kaggleboard/backend/leaderboard"
	"github.com/kaggleboard/backend/submission"
)

type HttpServer struct {
	submSrvc   *submission.Srvc
	boardSrvc  *leaderboard.Srvc
	board      *leaderboard.Updater
	subs       submission.Repo
	challenges challenge.Repo
	resolver   *blobref.Resolver
	artifacts  evalrunner.ArtifactStore

	// graderTokenHash is the bcrypt hash of the remote grader's shared
	// secret; empty disables the grader surface.
	graderTokenHash string

	router *chi.Mux
}

func NewHttpServer(
	submSrvc *submission.Srvc,
	boardSrvc *leaderboard.Srvc,
	board *leaderboard.Updater,
	subs submission.Repo,
	challenges challenge.Repo,
	resolver *blobref.Resolver,
	artifacts evalrunner.ArtifactStore,
	graderTokenHash string,
	jwtKey []byte,
) *HttpServer {
	router := chi.NewRouter()

	logger := httplog.NewLogger("kaggleboard", httplog.Options{
		LogLevel:         slog.LevelDebug,
		Concise:          true,
		RequestHeaders:   true,
		MessageFieldName: "message",
	})

	router.Use(httplog.RequestLogger(logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://kaggleboard.io", "https://www.kaggleboard.io"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           3000,
	}))

	router.Use(auth.GetJwtAuthMiddleware(jwtKey))

	server := &HttpServer{
		submSrvc:        submSrvc,
		boardSrvc:       boardSrvc,
		board:           board,
		subs:            subs,
		challenges:      challenges,
		resolver:        resolver,
		artifacts:       artifacts,
		graderTokenHash: graderTokenHash,
		router:          router,
	}

	server.routes()

	return server
}

func (httpserver *HttpServer) Start(address string) error {
	return http.ListenAndServe(address, httpserver.router)
}

// Handler exposes the router; tests mount it on httptest servers.
func (httpserver *HttpServer) Handler() http.Handler {
	return httpserver.router
}

func (httpserver *HttpServer) routes() {
	r := httpserver.router
	r.Post("/submissions", httpserver.createSubmission)
	r.Get("/submissions", httpserver.listSubmissions)
	r.Get("/submissions/{submissionID}", httpserver.getSubmission)
	r.Post("/submissions/{submissionID}/cancel", httpserver.cancelSubmission)
	r.Patch("/submissions/{submissionID}/visibility", httpserver.setSubmissionVisibility)
	r.Get("/leaderboards/{phaseSplitID}", httpserver.getLeaderboard)
	r.Put("/grader/submissions/{submissionID}/result", httpserver.putGraderResult)
}
