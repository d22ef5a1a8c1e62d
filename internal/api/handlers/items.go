// Package handlers provides HTTP handlers for the lookup service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lukeslade/pbs-lookup-tool/internal/authority"
	"github.com/lukeslade/pbs-lookup-tool/internal/observability/metrics"
	"github.com/lukeslade/pbs-lookup-tool/internal/pbs"
)

// Lookup is the slice of the PBS client the handlers need.
type Lookup interface {
	LookupByCode(ctx context.Context, code string) (*pbs.Item, error)
	SearchByName(ctx context.Context, name string) ([]pbs.Item, error)
}

// ItemHandler serves item lookups and authority application formatting.
type ItemHandler struct {
	client  Lookup
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewItemHandler creates a handler. logger and m may be nil.
func NewItemHandler(client Lookup, logger *zap.Logger, m *metrics.Metrics) *ItemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemHandler{client: client, logger: logger, metrics: m}
}

// Routes returns the item routes.
func (h *ItemHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Search)
	r.Get("/{code}", h.GetByCode)
	return r
}

// ItemView is the JSON shape returned for one item.
type ItemView struct {
	Code            string `json:"item_code"`
	DrugName        string `json:"drug_name"`
	BrandName       string `json:"brand_name,omitempty"`
	ScheduleForm    string `json:"schedule_form,omitempty"`
	ProgramCode     string `json:"program_code,omitempty"`
	AuthorityType   string `json:"authority_type"`
	RestrictionText string `json:"restriction_text,omitempty"`
	PageURL         string `json:"page_url"`
}

func viewOf(item *pbs.Item) ItemView {
	return ItemView{
		Code:            item.Code,
		DrugName:        item.DrugName,
		BrandName:       item.BrandName,
		ScheduleForm:    item.ScheduleForm,
		ProgramCode:     item.ProgramCode,
		AuthorityType:   string(item.AuthorityType()),
		RestrictionText: item.RestrictionText,
		PageURL:         item.PageURL(),
	}
}

// GetByCode handles GET /api/v1/items/{code}.
func (h *ItemHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	item, err := h.client.LookupByCode(r.Context(), code)
	if err != nil {
		h.metrics.RecordLookup(metrics.KindCode, outcomeOf(err))
		h.writeError(w, err)
		return
	}
	h.metrics.RecordLookup(metrics.KindCode, metrics.OutcomeHit)

	h.writeJSON(w, http.StatusOK, viewOf(item))
}

// SearchResponse is the JSON shape for a name search.
type SearchResponse struct {
	Items []ItemView `json:"items"`
	Count int        `json:"count"`
}

// Search handles GET /api/v1/items?drug=<name>. Zero matches is a 200
// with an empty list; callers disambiguate when more than one comes back.
func (h *ItemHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("drug")

	items, err := h.client.SearchByName(r.Context(), name)
	if err != nil {
		h.metrics.RecordLookup(metrics.KindName, outcomeOf(err))
		h.writeError(w, err)
		return
	}
	h.metrics.RecordLookup(metrics.KindName, metrics.OutcomeHit)

	resp := SearchResponse{Items: make([]ItemView, 0, len(items)), Count: len(items)}
	for i := range items {
		resp.Items = append(resp.Items, viewOf(&items[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ApplicationRequest is the request body for formatting an application.
type ApplicationRequest struct {
	ItemCode       string `json:"item_code"`
	ProviderNumber string `json:"provider_number"`
}

// ApplicationResponse carries the formatted application block.
type ApplicationResponse struct {
	ItemCode       string `json:"item_code"`
	ProviderNumber string `json:"provider_number"`
	AuthorityType  string `json:"authority_type"`
	Application    string `json:"application"`
}

// CreateApplication handles POST /api/v1/applications: looks the item up
// and renders the authority application block.
func (h *ItemHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req ApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	item, text, err := h.formatApplication(r.Context(), req.ItemCode, req.ProviderNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ApplicationResponse{
		ItemCode:       item.Code,
		ProviderNumber: req.ProviderNumber,
		AuthorityType:  string(item.AuthorityType()),
		Application:    text,
	})
}

// DownloadApplication handles GET /api/v1/applications/download?code=&provider=,
// serving the formatted block as an attachment.
func (h *ItemHandler) DownloadApplication(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	provider := r.URL.Query().Get("provider")

	item, text, err := h.formatApplication(r.Context(), code, provider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+authority.Filename(item)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

func (h *ItemHandler) formatApplication(ctx context.Context, code, provider string) (*pbs.Item, string, error) {
	if err := pbs.ValidateProviderNumber(provider); err != nil {
		return nil, "", err
	}

	item, err := h.client.LookupByCode(ctx, code)
	if err != nil {
		h.metrics.RecordLookup(metrics.KindCode, outcomeOf(err))
		return nil, "", err
	}
	h.metrics.RecordLookup(metrics.KindCode, metrics.OutcomeHit)

	text, err := authority.Format(item, provider)
	if err != nil {
		return nil, "", err
	}
	h.metrics.RecordApplication()

	h.logger.Info("application formatted",
		zap.String("pbs_code", item.Code),
		zap.String("authority", string(item.AuthorityType())),
	)

	return item, text, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, pbs.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, pbs.ErrEmptyQuery), errors.Is(err, pbs.ErrInvalidProviderNumber):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailure
	}
}

// writeError maps the lookup error taxonomy onto HTTP statuses: validation
// 400, not found 404, upstream failure 502.
func (h *ItemHandler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, pbs.ErrEmptyQuery),
		errors.Is(err, pbs.ErrInvalidProviderNumber),
		errors.Is(err, authority.ErrNoAuthorityRequired):
		status = http.StatusBadRequest
	case errors.Is(err, pbs.ErrNotFound):
		status = http.StatusNotFound
	case pbs.IsLookupFailure(err):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		h.logger.Error("request failed", zap.Error(err))
	}

	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *ItemHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
