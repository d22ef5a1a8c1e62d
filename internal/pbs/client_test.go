package pbs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testRestrictionText = "Initial treatment of relapsed or refractory multiple myeloma"

// fakeDataAPI emulates the PBS data API surface the client touches.
type fakeDataAPI struct {
	mux           *http.ServeMux
	scheduleCalls atomic.Int64
	lastKey       atomic.Value
}

func newFakeDataAPI(t *testing.T) (*fakeDataAPI, *httptest.Server) {
	t.Helper()

	f := &fakeDataAPI{mux: http.NewServeMux()}

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	f.mux.HandleFunc("/schedules", func(w http.ResponseWriter, r *http.Request) {
		f.scheduleCalls.Add(1)
		f.lastKey.Store(r.Header.Get("Subscription-Key"))
		writeJSON(w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"schedule_code": 3560},
				{"schedule_code": 3562},
				{"schedule_code": 3561},
			},
		})
	})

	items := []map[string]interface{}{
		{"pbs_code": "10006C", "li_drug_name": "lenalidomide", "brand_name": "Revlimid",
			"schedule_form": "Capsule 25 mg", "program_code": "GE", "benefit_type_code": "S"},
		{"pbs_code": "1234X", "li_drug_name": "Panadol Osteo", "benefit_type_code": "U"},
		{"pbs_code": "5678Y", "li_drug_name": "panadol", "benefit_type_code": "U"},
		{"pbs_code": "9012Z", "li_drug_name": "PANADOL extra", "benefit_type_code": "A"},
		{"pbs_code": "12119W", "li_drug_name": "pembrolizumab", "benefit_type_code": "A"},
	}

	f.mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("pbs_code")
		if code == "" {
			writeJSON(w, map[string]interface{}{"data": items})
			return
		}
		for _, item := range items {
			if item["pbs_code"] == code {
				writeJSON(w, map[string]interface{}{"data": []map[string]interface{}{item}})
				return
			}
		}
		writeJSON(w, map[string]interface{}{"data": []map[string]interface{}{}})
	})

	f.mux.HandleFunc("/item-restriction-relationships", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"pbs_code": r.URL.Query().Get("pbs_code"), "res_code": "4523"},
			},
		})
	})

	f.mux.HandleFunc("/restrictions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"res_code": "4523", "li_html_text": "<p>" + testRestrictionText + "</p>"},
			},
		})
	})

	server := httptest.NewServer(f.mux)
	t.Cleanup(server.Close)
	return f, server
}

func newTestClient(baseURL string) *Client {
	cfg := ClientConfig{
		BaseURL:         baseURL,
		SubscriptionKey: "test-key",
		Timeout:         2 * time.Second,
		PageLimit:       500,
		ScheduleTTL:     time.Minute,
	}
	return NewClient(cfg, nil, nil)
}

func TestLookupByCode(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	item, err := client.LookupByCode(context.Background(), "10006C")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	if item.Code != "10006C" {
		t.Errorf("item code = %q, want queried code", item.Code)
	}
	if item.DrugName != "lenalidomide" {
		t.Errorf("drug name = %q", item.DrugName)
	}
	if item.AuthorityType() != AuthorityStreamlined {
		t.Errorf("authority type = %q, want streamlined", item.AuthorityType())
	}
	if item.RestrictionText != testRestrictionText {
		t.Errorf("restriction text = %q, want %q", item.RestrictionText, testRestrictionText)
	}
	if item.ScheduleCode != 3562 {
		t.Errorf("schedule code = %d, want latest (3562)", item.ScheduleCode)
	}
}

func TestLookupByCodeNormalizesCase(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	item, err := client.LookupByCode(context.Background(), " 10006c ")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if item.Code != "10006C" {
		t.Errorf("item code = %q", item.Code)
	}
}

func TestLookupByCodeNotFound(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	_, err := client.LookupByCode(context.Background(), "99999Q")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if IsLookupFailure(err) {
		t.Error("not-found must not classify as a lookup failure")
	}
}

func TestLookupByCodeEmpty(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	if _, err := client.LookupByCode(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestLookupSendsSubscriptionKey(t *testing.T) {
	api, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	if _, err := client.LookupByCode(context.Background(), "10006C"); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got := api.lastKey.Load(); got != "test-key" {
		t.Errorf("Subscription-Key = %v, want test-key", got)
	}
}

func TestSearchByName(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	items, err := client.SearchByName(context.Background(), "Panadol")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("got %d matches, want 3", len(items))
	}

	// Remote listing order preserved, no local re-sort.
	wantOrder := []string{"1234X", "5678Y", "9012Z"}
	for i, want := range wantOrder {
		if items[i].Code != want {
			t.Errorf("items[%d].Code = %q, want %q", i, items[i].Code, want)
		}
	}
}

func TestSearchByNameNoMatches(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	items, err := client.SearchByName(context.Background(), "nonexistium")
	if err != nil {
		t.Fatalf("zero matches must not be an error, got %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("got %v, want empty slice", items)
	}
}

func TestSearchByNameEmpty(t *testing.T) {
	_, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	if _, err := client.SearchByName(context.Background(), ""); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestScheduleCodeCached(t *testing.T) {
	api, server := newFakeDataAPI(t)
	client := newTestClient(server.URL)

	ctx := context.Background()
	if _, err := client.LookupByCode(ctx, "10006C"); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	if _, err := client.SearchByName(ctx, "panadol"); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}

	if calls := api.scheduleCalls.Load(); calls != 1 {
		t.Errorf("schedule resource called %d times, want 1 (cached)", calls)
	}
}

func TestUpstreamErrorIsLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.LookupByCode(context.Background(), "10006C")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsLookupFailure(err) {
		t.Fatalf("err = %v, want *LookupError", err)
	}

	var le *LookupError
	if errors.As(err, &le) && le.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", le.Status)
	}
}

func TestUpstreamTimeoutIsLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	cfg := ClientConfig{
		BaseURL:     server.URL,
		Timeout:     50 * time.Millisecond,
		PageLimit:   500,
		ScheduleTTL: time.Minute,
	}
	client := NewClient(cfg, nil, nil)

	_, err := client.LookupByCode(context.Background(), "10006C")
	if !IsLookupFailure(err) {
		t.Fatalf("err = %v, want *LookupError on timeout", err)
	}
}

func TestMalformedResponseIsLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>definitely not json</html>"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.LookupByCode(context.Background(), "10006C")
	if !IsLookupFailure(err) {
		t.Fatalf("err = %v, want *LookupError on malformed body", err)
	}
}
