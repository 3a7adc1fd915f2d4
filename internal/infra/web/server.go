package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/infra/logging"
	"receipt-ocr/internal/infra/metrics"
	"receipt-ocr/internal/usecase"
)

// QueueService is the part of the local priority queue exposed over HTTP.
type QueueService interface {
	Enqueue(ctx context.Context, receiptID string, priority int) (*model.QueueItem, error)
	Get(ctx context.Context, id string) (*model.QueueItem, error)
	FindByReceipt(ctx context.Context, receiptID string) (*model.QueueItem, error)
	Stats(ctx context.Context) model.QueueStats
}

type Server struct {
	ocrUC usecase.OCRJobUseCase
	queue QueueService
	auth  *AuthManager
	log   *zerolog.Logger

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(ocrUC usecase.OCRJobUseCase, queue QueueService, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{
		ocrUC: ocrUC,
		queue: queue,
		auth:  auth,
		log:   &l,
	}
}

// Routes builds the router. /health and /metrics are public; everything
// under /api/v1 needs a bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/ocr", func(r chi.Router) {
			r.Post("/jobs", s.createBatchJob)
			r.Get("/jobs/{jobID}", s.getJob)
			r.Post("/jobs/{jobID}/cancel", s.cancelJob)
			r.Get("/stats", s.jobStats)
			r.Get("/engine/health", s.engineHealth)

			r.Post("/queue", s.enqueue)
			r.Get("/queue/stats", s.queueStats)
			r.Get("/queue/{itemID}", s.getQueueItem)
		})

		r.Route("/receipts/{receiptID}", func(r chi.Router) {
			r.Post("/ocr", s.createJob)
			r.Get("/ocr/jobs", s.jobsForReceipt)
			r.Get("/ocr/result", s.latestResult)
			r.Get("/ocr/queue", s.queueItemForReceipt)
		})
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			s.log.Error().Msg("api auth is not configured")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe records per-route metrics and threads the request id into the
// logging context.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := logging.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r.WithContext(ctx))

		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
