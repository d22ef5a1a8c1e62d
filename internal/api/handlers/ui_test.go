package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lukeslade/pbs-lookup-tool/internal/pbs"
)

func newUITest(t *testing.T, stub *stubLookup) *UIHandler {
	t.Helper()
	h, err := NewUIHandler(stub, nil)
	if err != nil {
		t.Fatalf("ui handler: %v", err)
	}
	return h
}

func TestUIRendersForm(t *testing.T) {
	h := newUITest(t, &stubLookup{})

	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "PBS Authority Application Tool") {
		t.Error("missing page title")
	}
	// Provider number defaults like the sidebar input did.
	if !strings.Contains(body, `value="000000"`) {
		t.Error("missing default provider number")
	}
}

func TestUIListsAllMatchesForDisambiguation(t *testing.T) {
	stub := &stubLookup{results: []pbs.Item{
		{Code: "1234X", DrugName: "Panadol Osteo", BenefitTypeCode: "U"},
		{Code: "5678Y", DrugName: "panadol", BenefitTypeCode: "U"},
		{Code: "9012Z", DrugName: "PANADOL extra", BenefitTypeCode: "A"},
	}}
	h := newUITest(t, stub)

	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, "/?drug=Panadol", nil))

	body := rec.Body.String()
	for _, code := range []string{"1234X", "5678Y", "9012Z"} {
		if !strings.Contains(body, code) {
			t.Errorf("result %s not presented", code)
		}
	}
	// None pre-selected: no application block until the user picks one.
	if strings.Contains(body, "Hospital Provider Number") {
		t.Error("application must not render before selection")
	}
}

func TestUIRendersApplicationForSelectedItem(t *testing.T) {
	h := newUITest(t, &stubLookup{items: map[string]*pbs.Item{"10006C": testItem()}})

	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, "/?code=10006C&provider=123456", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "Hospital Provider Number [123456]") {
		t.Errorf("missing application block:\n%s", body)
	}
	if !strings.Contains(body, "applications/download") {
		t.Error("missing download link")
	}
}

func TestUIShowsLookupFailure(t *testing.T) {
	h := newUITest(t, &stubLookup{err: &pbs.LookupError{Resource: "items", Status: 503}})

	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, "/?code=10006C", nil))

	// Failure surfaces as a readable message, not a 5xx page or panic.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Could not reach the PBS data service") {
		t.Error("missing error message")
	}
}
