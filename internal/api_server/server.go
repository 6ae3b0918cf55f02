package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/config"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/store"
	"github.com/kubev2v/cutout/internal/util"
	"github.com/kubev2v/cutout/pkg/log"
	"github.com/kubev2v/cutout/pkg/metrics"
	"github.com/kubev2v/cutout/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// Pipeline is the control surface the API drives.
type Pipeline interface {
	AddJob(ctx context.Context, name string, data []byte) (string, error)
	StartBatch(ctx context.Context) error
	ClearAll(ctx context.Context) error
	RemoveJob(ctx context.Context, id string) error
	Snapshot(ctx context.Context) ([]pipeline.JobView, error)
	Job(ctx context.Context, id string) (pipeline.JobView, error)
	Result(ctx context.Context, id string) ([]byte, error)
	Status(ctx context.Context) (pipeline.Status, error)
}

type Server struct {
	cfg      *config.Config
	pipeline Pipeline
	history  store.History
	listener net.Listener
}

// New returns a new instance of the cutout API server. history may be nil
// when archiving is disabled.
func New(
	cfg *config.Config,
	p Pipeline,
	history store.History,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		pipeline: p,
		history:  history,
		listener: listener,
	}
}

// Router builds the HTTP handler with every route and middleware.
func (s *Server) Router() (http.Handler, error) {
	metricMiddleware, err := metrics.NewMiddleware("api_server")
	if err != nil {
		return nil, err
	}
	if err := metricMiddleware.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(
		util.StripPathPrefix(s.cfg.Service.PathPrefix),
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Service.CorsOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}),
		middleware.RequestID,
		log.ConditionalLogger(s.cfg.Service.LogLevel, zap.L(), "http"),
		chiMiddleware.Recoverer,
	)

	h := &handler{
		pipeline:       s.pipeline,
		history:        s.history,
		maxUploadBytes: s.cfg.Service.MaxUploadBytes,
	}
	router.Get("/health", h.health)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", h.listJobs)
		r.Post("/jobs", h.addJob)
		r.Delete("/jobs", h.clearJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Delete("/jobs/{id}", h.removeJob)
		r.Get("/jobs/{id}/result", h.getResult)
		r.Post("/batch", h.startBatch)
		r.Get("/status", h.status)
		r.Get("/history", h.listHistory)
	})

	return router, nil
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	router, err := s.Router()
	if err != nil {
		return err
	}
	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
