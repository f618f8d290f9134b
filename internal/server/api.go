package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lucky-verma/music-discovery/internal/history"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/orchestrator"
	"github.com/lucky-verma/music-discovery/internal/queue"
	"github.com/lucky-verma/music-discovery/internal/services"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

// Scanner triggers an immediate library rescan.
type Scanner interface {
	ScanNow(ctx context.Context) error
}

// API serves the JSON endpoints for search, downloads, syncs, job control,
// history, and stats.
type API struct {
	scheduler *queue.Scheduler
	orch      *orchestrator.Orchestrator
	store     *history.Store
	scanner   Scanner
	catalogs  map[string]services.Service
	logger    *log.Logger
}

// NewAPI wires the pipeline components into a handler set.
func NewAPI(
	scheduler *queue.Scheduler,
	orch *orchestrator.Orchestrator,
	store *history.Store,
	scanner Scanner,
	catalogs map[string]services.Service,
	logger *log.Logger,
) *API {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &API{
		scheduler: scheduler,
		orch:      orch,
		store:     store,
		scanner:   scanner,
		catalogs:  catalogs,
		logger:    shared.WithLogger(logger, "component", "api"),
	}
}

// Handler builds the routed handler with the given middleware applied.
func (a *API) Handler(middlewares ...Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/search", a.handleSearch)
	mux.HandleFunc("POST /api/download", a.handleDownload)
	mux.HandleFunc("POST /api/sync", a.handleSync)
	mux.HandleFunc("GET /api/jobs", a.handleJobs)
	mux.HandleFunc("GET /api/jobs/{id}", a.handleJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", a.handleCancel)
	mux.HandleFunc("POST /api/jobs/{id}/retry", a.handleRetry)
	mux.HandleFunc("GET /api/batches", a.handleBatches)
	mux.HandleFunc("GET /api/batches/{id}", a.handleBatch)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("POST /api/scan", a.handleScan)

	var handler http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, shared.ErrMissingArgument, "q parameter required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	catalog, err := a.catalog(r.URL.Query().Get("service"))
	if err != nil {
		respondError(w, err, err.Error())
		return
	}

	results, err := catalog.Search(r.Context(), query, limit)
	if err != nil {
		respondError(w, err, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"service": catalog.Name(),
		"results": results,
	})
}

type downloadRequest struct {
	SourceRef string               `json:"source_ref"`
	Quality   string               `json:"quality"`
	Meta      models.TrackMetadata `json:"meta"`
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, shared.ErrInvalidInput, "malformed request body")
		return
	}

	job, err := a.orch.DownloadTrack(req.SourceRef, req.Quality, req.Meta)
	if err != nil {
		respondError(w, err, "failed to queue download")
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

type syncRequest struct {
	Service  string `json:"service"`
	Playlist string `json:"playlist"`
	Liked    bool   `json:"liked"`
	Quality  string `json:"quality"`
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, shared.ErrInvalidInput, "malformed request body")
		return
	}

	catalog, err := a.catalog(req.Service)
	if err != nil {
		respondError(w, err, err.Error())
		return
	}

	var batch *models.Batch
	switch {
	case req.Liked:
		batch, err = a.orch.SyncLiked(r.Context(), catalog, req.Quality)
	case req.Playlist != "":
		batch, err = a.orch.SyncPlaylist(r.Context(), catalog, req.Playlist, req.Quality)
	default:
		respondError(w, shared.ErrMissingArgument, "playlist or liked required")
		return
	}
	if err != nil {
		respondError(w, err, "sync failed")
		return
	}
	respondJSON(w, http.StatusAccepted, batch)
}

func (a *API) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := a.scheduler.Jobs()
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	respondJSON(w, http.StatusOK, jobs)
}

func (a *API) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.scheduler.Job(r.PathValue("id"))
	if err != nil {
		respondError(w, err, "job lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.scheduler.Cancel(id); err != nil {
		respondError(w, err, "cancel failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := a.scheduler.Retry(r.PathValue("id"))
	if err != nil {
		respondError(w, err, "retry failed")
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	batches := a.orch.Batches()
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	respondJSON(w, http.StatusOK, batches)
}

func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	status, err := a.orch.Batch(r.PathValue("id"))
	if err != nil {
		respondError(w, err, "batch lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := a.store.Recent(limit)
	if err != nil {
		respondError(w, err, "history query failed")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats()
	if err != nil {
		respondError(w, err, "stats query failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	if a.scanner == nil {
		respondError(w, shared.ErrMissingConfig, "no scanner configured")
		return
	}
	if err := a.scanner.ScanNow(r.Context()); err != nil {
		respondError(w, err, "scan failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "scan triggered"})
}

// catalog picks a service by name, defaulting to the only one configured.
func (a *API) catalog(name string) (services.Service, error) {
	if len(a.catalogs) == 0 {
		return nil, shared.ErrServiceUnavailable
	}
	if name == "" {
		if len(a.catalogs) == 1 {
			for _, svc := range a.catalogs {
				return svc, nil
			}
		}
		return nil, errors.Join(shared.ErrMissingArgument, errors.New("service parameter required"))
	}
	svc, ok := a.catalogs[strings.ToLower(name)]
	if !ok {
		return nil, errors.Join(shared.ErrInvalidInput, errors.New("unknown service "+name))
	}
	return svc, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondError maps pipeline errors onto HTTP statuses.
func respondError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError

	var oe *orchestrator.OrchestrationError
	if errors.As(err, &oe) {
		status = http.StatusBadGateway
	}

	switch {
	case errors.Is(err, shared.ErrJobNotFound), errors.Is(err, shared.ErrPlaylistNotFound),
		errors.Is(err, shared.ErrTrackNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shared.ErrJobNotCancelable), errors.Is(err, shared.ErrJobNotRetryable):
		status = http.StatusConflict
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrMissingArgument):
		status = http.StatusBadRequest
	case errors.Is(err, shared.ErrMissingCredentials), errors.Is(err, shared.ErrMissingConfig):
		status = http.StatusPreconditionFailed
	case errors.Is(err, shared.ErrQueueClosed), errors.Is(err, shared.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, map[string]string{
		"error":  message,
		"detail": err.Error(),
	})
}
