package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/opencampus/examcore/internal/api/http"
	"github.com/opencampus/examcore/internal/attempt"
	"github.com/opencampus/examcore/internal/auth"
	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/config"
	"github.com/opencampus/examcore/internal/db"
	"github.com/opencampus/examcore/internal/events"
	"github.com/opencampus/examcore/internal/grading"
	"github.com/opencampus/examcore/internal/rbac"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	if err := auth.EnsureUser(dbh, cfg.AdminUser, cfg.AdminUser, cfg.AdminPassHash, "admin"); err != nil {
		log.Fatalf("seed admin: %v", err)
	}

	// --- Services ---
	catStore := catalog.NewSQLStore(dbh)

	gradeOpts := []grading.Option{grading.WithJudgeTimeout(cfg.JudgeTimeout)}
	if cfg.JudgeAPIKey != "" {
		gradeOpts = append(gradeOpts,
			grading.WithJudge(grading.NewOpenAIJudge(cfg.JudgeBaseURL, cfg.JudgeAPIKey, cfg.JudgeModel)))
	} else {
		logger.Warn("no essay judge configured, essays will require manual review")
	}
	grader := grading.NewGrader(gradeOpts...)

	svc := attempt.NewService(
		attempt.NewSQLStore(dbh),
		catStore,
		grader,
		events.NewLogRepo(dbh),
		logger,
	)
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.Require("exam:create")).
			Post("/exams", api.UploadExamHandler(catStore))
		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", api.GetExamHandler(catStore))
		pr.With(rbac.RequireAny("stats:view", "attempt:view-own")).
			Get("/exams/{examID}/stats", api.GetStatsHandler(svc))

		pr.With(rbac.Require("attempt:create")).
			Post("/attempts", api.StartAttemptHandler(svc))
		pr.With(rbac.Require("attempt:save")).
			Put("/attempts/{attemptID}/answers/{questionID}", api.SubmitAnswerHandler(svc))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/answers", api.BatchSubmitHandler(svc))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/finish", api.FinishAttemptHandler(svc))
		pr.With(rbac.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grade", api.MarkGradedHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetResultHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	logger.Info("listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatalf("server: %v", err)
	}
}
