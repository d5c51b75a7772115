package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"energy-service/internal/aggregation"
	"energy-service/internal/analytics"
	"energy-service/internal/config"
	"energy-service/internal/ingest"
	"energy-service/internal/models"
	"energy-service/internal/store"
)

const (
	version         = "1.0.0"
	requestIDHeader = "X-Request-ID"
)

// RecentReader serves the recently written measurements journal.
type RecentReader interface {
	Recent(ctx context.Context, count int64) ([]models.Measurement, error)
}

type Deps struct {
	Store      store.Store
	Aggregator *aggregation.Aggregator
	Analyzer   *analytics.Analyzer
	Importer   *ingest.Importer
	Recent     RecentReader // optional
	Logger     *zap.Logger
}

type Server struct {
	router     *mux.Router
	store      store.Store
	aggregator *aggregation.Aggregator
	analyzer   *analytics.Analyzer
	importer   *ingest.Importer
	recent     RecentReader
	logger     *zap.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		store:      d.Store,
		aggregator: d.Aggregator,
		analyzer:   d.Analyzer,
		importer:   d.Importer,
		recent:     d.Recent,
		logger:     d.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(instrument)

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())

	m := s.router.PathPrefix("/api/measurements").Subrouter()
	m.HandleFunc("", s.createMeasurementHandler).Methods("POST")
	m.HandleFunc("", s.listMeasurementsHandler).Methods("GET")
	m.HandleFunc("", s.deleteAllMeasurementsHandler).Methods("DELETE")
	m.HandleFunc("/import", s.importMeasurementsHandler).Methods("POST")
	m.HandleFunc("/recent", s.recentMeasurementsHandler).Methods("GET")
	m.HandleFunc("/find/device/{deviceId}", s.findByDeviceHandler).Methods("GET")
	m.HandleFunc("/device/{deviceId}", s.measurementsByDeviceHandler).Methods("GET")
	m.HandleFunc("/{id:[0-9]+}", s.getMeasurementHandler).Methods("GET")
	m.HandleFunc("/{id:[0-9]+}", s.updateMeasurementHandler).Methods("PATCH")
	m.HandleFunc("/{id:[0-9]+}", s.deleteMeasurementHandler).Methods("DELETE")

	rp := s.router.PathPrefix("/api/reports").Subrouter()
	rp.HandleFunc("/devices-and-months", s.devicesAndMonthsHandler).Methods("GET")
	rp.HandleFunc("/active-power", s.activePowerHandler).Methods("GET")
	rp.HandleFunc("/consumption-patterns", s.consumptionPatternsHandler).Methods("GET")
	rp.HandleFunc("/consumption-analysis", s.consumptionAnalysisHandler).Methods("GET")
}

// Handler returns the router wrapped with request ids and panic recovery.
func (s *Server) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(requestID(s.router))
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version,
	}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		health["status"] = "degraded"
		health["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info("server is shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server is ready to handle requests", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", cfg.Addr, err)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
