// Package rest exposes the data-access facade over HTTP for the dashboard
// frontend. Rendering and routing beyond this thin surface belong to the
// frontend, not this service.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/backend"
	"agenthub-backend/internal/domain"
	"agenthub-backend/internal/querycache"
	"agenthub-backend/internal/store"
)

// Handler serves collection CRUD plus the query-tool endpoint.
type Handler struct {
	facade     *store.Facade
	queryCache *querycache.Cache // nil when no origin is configured
	logger     *zap.Logger
}

func NewHandler(facade *store.Facade, queryCache *querycache.Cache, logger *zap.Logger) *Handler {
	return &Handler{facade: facade, queryCache: queryCache, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	opts, callOpts, err := parseQuery(r)
	if err != nil {
		writeError(w, apperrors.Validation("getAll", err.Error()))
		return
	}
	records, err := h.facade.GetAll(r.Context(), collection, opts, callOpts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	rec, err := h.facade.GetByID(r.Context(), collection, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	var data domain.Record
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, apperrors.Validation("create", "malformed request body"))
		return
	}
	rec, err := h.facade.Create(r.Context(), collection, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	var partial domain.Record
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, apperrors.Validation("update", "malformed request body"))
		return
	}
	rec, err := h.facade.Update(r.Context(), collection, id, partial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	ok, err := h.facade.Remove(r.Context(), collection, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	opts, callOpts, err := parseQuery(r)
	if err != nil {
		writeError(w, apperrors.Validation("count", err.Error()))
		return
	}
	n, err := h.facade.Count(r.Context(), collection, opts, callOpts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.Cache().Stats())
}

type queryRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	UseCache  *bool          `json:"useCache"`
}

// Query runs the external query tool through the content-addressed cache.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if h.queryCache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "query tool not configured"})
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, apperrors.Validation("query", "malformed request body"))
		return
	}
	useCache := req.UseCache == nil || *req.UseCache
	result := h.queryCache.Execute(r.Context(), req.Query, req.Variables, useCache)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.TypeOf(err) {
	case apperrors.TypeValidation, apperrors.TypeUnsupportedOperator:
		status = http.StatusBadRequest
	case apperrors.TypeNotFound:
		status = http.StatusNotFound
	case apperrors.TypeConnection, apperrors.TypeTimeout:
		status = http.StatusServiceUnavailable
	case apperrors.TypeOperation:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseQuery maps URL parameters onto QueryOptions. Filtering from the
// query string supports the equality form col.eq=value used by the
// dashboard; richer filters arrive through the facade directly.
func parseQuery(r *http.Request) (domain.QueryOptions, []store.Option, error) {
	var opts domain.QueryOptions
	q := r.URL.Query()

	if page := q.Get("page"); page != "" {
		n, err := atoiPositive(page)
		if err != nil {
			return opts, nil, err
		}
		opts.Page = n
	}
	if size := q.Get("pageSize"); size != "" {
		n, err := atoiPositive(size)
		if err != nil {
			return opts, nil, err
		}
		opts.PageSize = n
	}
	opts.Cursor = q.Get("cursor")

	var callOpts []store.Option
	switch q.Get("backend") {
	case "":
	case string(backend.KindPrimary):
		callOpts = append(callOpts, store.WithBackend(backend.KindPrimary))
	case string(backend.KindSecondary):
		callOpts = append(callOpts, store.WithBackend(backend.KindSecondary))
	default:
		return opts, nil, errBadBackend
	}
	if q.Get("noCache") == "true" {
		callOpts = append(callOpts, store.WithoutCache())
	}
	return opts, callOpts, nil
}
