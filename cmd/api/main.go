package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/debiflow/pkg/config"
	"github.com/mcclellann/debiflow/pkg/ledger"
	"github.com/mcclellann/debiflow/pkg/metrics"
	"github.com/mcclellann/debiflow/pkg/models"
	"github.com/mcclellann/debiflow/pkg/report"
	"github.com/mcclellann/debiflow/pkg/store"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes the ledger entry points over HTTP.
type Server struct {
	ledger    *ledger.Ledger
	storage   store.BlobStore
	summaries *cache.Cache
	cacheTTL  time.Duration
	registry  *prometheus.Registry
	logger    *logrus.Logger
	threshold int
}

func NewServer(s store.BlobStore, journal store.RunJournal, cfg *config.Config, logger *logrus.Logger) *Server {
	registry := prometheus.NewRegistry()
	opts := []ledger.Option{ledger.WithMetrics(metrics.NewRecorder(registry))}
	if journal != nil {
		opts = append(opts, ledger.WithJournal(journal))
	}
	return &Server{
		ledger:    ledger.NewLedger(s, logger, opts...),
		storage:   s,
		summaries: cache.New(cfg.SummaryCacheTTL, 2*cfg.SummaryCacheTTL),
		cacheTTL:  cfg.SummaryCacheTTL,
		registry:  registry,
		logger:    logger,
		threshold: cfg.DPDThreshold,
	}
}

// Router wires every handler.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/investors", s.listInvestorsHandler).Methods("GET")
	router.HandleFunc("/investors/{investor}/periods", s.resolvePeriodsHandler).Methods("GET")
	router.HandleFunc("/investors/{investor}/seed", s.seedHandler).Methods("POST")
	router.HandleFunc("/investors/{investor}/runs", s.runsHandler).Methods("GET")
	router.HandleFunc("/investors/{investor}/periods/{period}/confirm", s.confirmHandler).Methods("POST")
	router.HandleFunc("/investors/{investor}/periods/{period}/repurchases", s.finalizeHandler).Methods("POST")
	router.HandleFunc("/investors/{investor}/periods/{period}/summary", s.summaryHandler).Methods("GET")
	router.HandleFunc("/investors/{investor}/periods/{period}/summary.xlsx", s.workbookHandler).Methods("GET")
	router.HandleFunc("/investors/{investor}/periods/{period}/bundles/{kind}", s.bundleHandler).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrAlreadySeeded):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrMissingPrecondition):
		status = http.StatusPreconditionFailed
	case errors.Is(err, ledger.ErrParseFailure):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNoJournal):
		status = http.StatusNotImplemented
	}
	if status == http.StatusInternalServerError {
		config.LogError(s.logger, "api", r.URL.Path, r.Method, mux.Vars(r), err)
	}
	http.Error(w, err.Error(), status)
}

func periodVar(w http.ResponseWriter, r *http.Request) (models.Period, bool) {
	p, err := models.ParsePeriod(mux.Vars(r)["period"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return p, true
}

func (s *Server) thresholdParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return s.threshold, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "Invalid threshold", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) listInvestorsHandler(w http.ResponseWriter, r *http.Request) {
	investors, err := s.ledger.ListInvestors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if investors == nil {
		investors = []string{}
	}
	writeJSON(w, http.StatusOK, investors)
}

func (s *Server) resolvePeriodsHandler(w http.ResponseWriter, r *http.Request) {
	var reference models.Period
	if raw := r.URL.Query().Get("reference"); raw != "" {
		p, err := models.ParsePeriod(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reference = p
	}
	res, err := s.ledger.ResolvePeriods(r.Context(), mux.Vars(r)["investor"], reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) seedHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Period string `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := models.ParsePeriod(req.Period)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	investor := mux.Vars(r)["investor"]
	written, err := s.ledger.SeedMasters(r.Context(), investor, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidate(investor)
	writeJSON(w, http.StatusCreated, map[string]any{"masters": written})
}

func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := periodVar(w, r)
	if !ok {
		return
	}
	investor := mux.Vars(r)["investor"]
	res, err := s.ledger.ConfirmPeriod(r.Context(), investor, p)
	s.invalidate(investor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) finalizeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := periodVar(w, r)
	if !ok {
		return
	}
	var req struct {
		Threshold *int `json:"threshold"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 {
		http.Error(w, "Invalid threshold", http.StatusBadRequest)
		return
	}

	investor := mux.Vars(r)["investor"]
	periods, err := s.ledger.ResolvePeriods(r.Context(), investor, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if periods.PriorMaster.IsZero() {
		http.Error(w, fmt.Sprintf("No prior master before %s", p), http.StatusPreconditionFailed)
		return
	}
	n, err := s.ledger.FinalizeRepurchases(r.Context(), investor, p, periods.PriorMaster, threshold)
	s.invalidate(investor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report_period": p,
		"prior_period":  periods.PriorMaster,
		"threshold":     threshold,
		"finalized":     n,
	})
}

func summaryKey(investor string, p models.Period, threshold int) string {
	return fmt.Sprintf("%s|%s|%d", investor, p, threshold)
}

// invalidate drops every cached summary of investor.
func (s *Server) invalidate(investor string) {
	prefix := investor + "|"
	for k := range s.summaries.Items() {
		if strings.HasPrefix(k, prefix) {
			s.summaries.Delete(k)
		}
	}
}

// summary serves from the cache when a TTL is configured. A zero TTL
// disables caching.
func (s *Server) summary(ctx context.Context, investor string, p models.Period, threshold int) (models.Summary, error) {
	if s.cacheTTL <= 0 {
		return s.ledger.Summarize(ctx, investor, p, threshold)
	}
	key := summaryKey(investor, p, threshold)
	if v, ok := s.summaries.Get(key); ok {
		return v.(models.Summary), nil
	}
	summary, err := s.ledger.Summarize(ctx, investor, p, threshold)
	if err != nil {
		return models.Summary{}, err
	}
	s.summaries.Set(key, summary, cache.DefaultExpiration)
	return summary, nil
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := periodVar(w, r)
	if !ok {
		return
	}
	threshold, ok := s.thresholdParam(w, r)
	if !ok {
		return
	}
	summary, err := s.summary(r.Context(), mux.Vars(r)["investor"], p, threshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) workbookHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := periodVar(w, r)
	if !ok {
		return
	}
	threshold, ok := s.thresholdParam(w, r)
	if !ok {
		return
	}
	investor := mux.Vars(r)["investor"]
	summary, err := s.summary(r.Context(), investor, p, threshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := report.SummaryWorkbook(summary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.WorkbookContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_Summary_%s.xlsx", investor, p))
	w.Write(data)
}

func (s *Server) bundleHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := periodVar(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	kind, err := report.ParseBundleKind(vars["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := report.Bundle(r.Context(), s.storage, vars["investor"], p, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+report.BundleFileName(vars["investor"], kind, p))
	w.Write(data)
}

func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := s.ledger.Runs(r.Context(), mux.Vars(r)["investor"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*models.StageRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	blobs, journal, err := config.OpenStore(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	defer blobs.Close()

	server := NewServer(blobs, journal, cfg, logger)

	logger.WithFields(logrus.Fields{"port": cfg.Port, "backend": cfg.Backend}).Info("Server starting")
	if err := http.ListenAndServe(":"+cfg.Port, server.Router()); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}
