package handlers

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/lukeslade/pbs-lookup-tool/internal/authority"
	"github.com/lukeslade/pbs-lookup-tool/internal/pbs"
)

//go:embed templates/index.html.tmpl
var templateFS embed.FS

const defaultProviderNumber = "000000"

// UIHandler serves the server-rendered lookup form. Presentation only:
// all lookup and formatting behaviour lives in pbs and authority.
type UIHandler struct {
	client Lookup
	logger *zap.Logger
	tmpl   *template.Template
}

// NewUIHandler parses the embedded template and creates the handler.
func NewUIHandler(client Lookup, logger *zap.Logger) (*UIHandler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/index.html.tmpl")
	if err != nil {
		return nil, err
	}
	return &UIHandler{client: client, logger: logger, tmpl: tmpl}, nil
}

type uiPage struct {
	ProviderNumber string
	DrugQuery      string
	Searched       bool
	Results        []ItemView
	Selected       *ItemView
	Application    string
	DownloadURL    string
	Error          string
}

// Index handles GET /. Query params drive the workflow: ?drug= searches,
// ?code= selects an item, ?provider= threads the provider number through.
// Multiple search results are listed with none pre-selected.
func (h *UIHandler) Index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := uiPage{
		ProviderNumber: q.Get("provider"),
		DrugQuery:      q.Get("drug"),
	}
	if page.ProviderNumber == "" {
		page.ProviderNumber = defaultProviderNumber
	}

	if page.DrugQuery != "" {
		items, err := h.client.SearchByName(r.Context(), page.DrugQuery)
		if err != nil {
			page.Error = userMessage(err)
		} else {
			page.Searched = true
			for i := range items {
				page.Results = append(page.Results, viewOf(&items[i]))
			}
		}
	}

	if code := q.Get("code"); code != "" && page.Error == "" {
		item, err := h.client.LookupByCode(r.Context(), code)
		if err != nil {
			page.Error = userMessage(err)
		} else {
			view := viewOf(item)
			page.Selected = &view

			if item.RequiresAuthority() {
				text, err := authority.Format(item, page.ProviderNumber)
				if err != nil {
					page.Error = userMessage(err)
				} else {
					page.Application = text
					page.DownloadURL = "/api/v1/applications/download?" + url.Values{
						"code":     {item.Code},
						"provider": {page.ProviderNumber},
					}.Encode()
				}
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, page); err != nil {
		h.logger.Error("template render failed", zap.Error(err))
	}
}

// userMessage turns the error taxonomy into copy a prescriber can act on.
func userMessage(err error) string {
	switch {
	case errors.Is(err, pbs.ErrNotFound):
		return "No PBS item found for that code. Check the code or search by medication name."
	case errors.Is(err, pbs.ErrEmptyQuery):
		return "Enter a medication name or item code."
	case errors.Is(err, pbs.ErrInvalidProviderNumber):
		return "Hospital provider number must be 6 digits."
	case errors.Is(err, authority.ErrNoAuthorityRequired):
		return "This item is unrestricted; no authority application is needed."
	case pbs.IsLookupFailure(err):
		return "Could not reach the PBS data service. Try again shortly."
	default:
		return "Something went wrong. Try again."
	}
}
