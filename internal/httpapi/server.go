// Package httpapi exposes the assessment engine over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/benchmark"
	"github.com/sells-group/assessment-engine/internal/lifecycle"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/responses"
)

// Templates reads assessment templates.
type Templates interface {
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)
}

// Server holds the services behind the routes.
type Server struct {
	Lifecycle  *lifecycle.Service
	Responses  *responses.Service
	Benchmarks *benchmark.Service
	Templates  Templates
}

// Handler returns the router. corsOrigins may be empty to disable CORS.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", HeaderUserID, HeaderTenantID, HeaderRole},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/templates", s.listTemplates)
		r.Get("/templates/{id}", s.getTemplate)

		r.Route("/assessments", func(r chi.Router) {
			r.Post("/", s.createAssessment)
			r.Get("/", s.listAssessments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getAssessment)
				r.Delete("/", s.archiveAssessment)
				r.Post("/submit", s.submit)
				r.Post("/status/{status}", s.changeStatus)

				r.Get("/responses", s.getResponses)
				r.Put("/responses", s.putResponses)
				r.Patch("/responses/{item_id}", s.patchResponse)

				r.Post("/scores/trigger-scoring", s.triggerScoring)
				r.Get("/scores", s.getScores)
				r.Post("/report/generate", s.triggerReport)
				r.Get("/report", s.getReport)
				r.Post("/risk/predict", s.triggerRisk)
				r.Get("/jobs/active", s.activeJob)
			})
		})

		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/benchmarks/compare/{assessment_id}", s.compare)
	})
	return r
}

type errorBody struct {
	Error struct {
		Code    apperr.Kind `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("httpapi: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	var body errorBody
	body.Error.Code = kind
	body.Error.Message = apperr.MessageOf(err)
	if kind == apperr.KindInternal {
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, apperr.HTTPStatus(kind), body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidValue("invalid request body: %v", err)
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
