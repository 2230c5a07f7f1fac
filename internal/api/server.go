// Package api exposes the fusion service over HTTP. The handlers are
// thin pass-throughs to the orchestrator and store reads; all workflow
// logic lives behind them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fuselabs/fuseforge/internal/orchestrator"
	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// Submitter is the slice of the orchestrator the API needs.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*domain.FusionRecord, error)
}

// Server wires the HTTP surface.
type Server struct {
	orch   Submitter
	store  ports.FusionStore
	ledger ports.AssetLedger
	logger *slog.Logger
}

// NewHandler builds the router. gatherer serves /metrics; pass the
// registry the service collectors were registered with.
func NewHandler(orch Submitter, store ports.FusionStore, ledger ports.AssetLedger, logger *slog.Logger, gatherer prometheus.Gatherer) http.Handler {
	s := &Server{orch: orch, store: store, ledger: ledger, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/fusions", s.submitFusion)
		r.Get("/fusions/{id}", s.getFusion)
		r.Get("/fusions", s.listFusions)
		r.Get("/assets/{id}", s.getAsset)
		r.Get("/assets", s.listAssets)
	})
	return r
}

type submitPayload struct {
	CreatorID   string         `json:"creatorId"`
	ParentIDs   []string       `json:"parentIds"`
	Params      map[string]any `json:"aiParameters,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
}

func (s *Server) submitFusion(w http.ResponseWriter, r *http.Request) {
	var body submitPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.orch.Submit(r.Context(), orchestrator.SubmitRequest{
		CreatorID:   body.CreatorID,
		ParentIDs:   body.ParentIDs,
		Params:      body.Params,
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		s.mapDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, rec)
}

func (s *Server) getFusion(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) listFusions(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator == "" {
		s.writeError(w, r, http.StatusBadRequest, "creator query parameter is required")
		return
	}
	recs, err := s.store.ListByCreator(r.Context(), creator)
	if err != nil {
		s.mapDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*domain.FusionRecord{}
	}
	s.writeJSON(w, r, http.StatusOK, recs)
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.ledger.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.mapDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, asset)
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		s.writeError(w, r, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	assets, err := s.ledger.ListByOwner(r.Context(), owner)
	if err != nil {
		s.mapDomainError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*domain.Asset{}
	}
	s.writeJSON(w, r, http.StatusOK, assets)
}

// mapDomainError translates the error taxonomy into status codes.
func (s *Server) mapDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	var cerr *domain.ConflictError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, r, http.StatusBadRequest, verr.Reason)
	case errors.As(err, &cerr):
		s.writeError(w, r, http.StatusConflict, cerr.Error())
	case errors.Is(err, domain.ErrFusionNotFound), errors.Is(err, domain.ErrAssetNotFound):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorEnvelope{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
