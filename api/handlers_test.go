/*
handlers_test.go - Tests for the report API

Tests the full HTTP path over a real router and an in-memory SQLite store:
submit inputs, trigger a run, read snapshots and history, manage overrides,
and inspect the catalog.
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridian/report-engine/engine"
	"github.com/meridian/report-engine/reports"
	"github.com/meridian/report-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cat := reports.DefaultCatalog()
	store, err := sqlite.New(":memory:", cat.YTDMetric)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc, err := reports.NewService(cat, store, nil)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	srv := httptest.NewServer(NewRouter(NewHandler(svc, store, nil)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, out.Bytes()
}

// aprilValues is the minimal funnel input set: website_hhs resolves to 0.6,
// call_hhs to 3 and the sms branch falls back to zero, so hhs comes out at 3.6.
func aprilValues() map[string]engine.Value {
	return map[string]engine.Value{
		"quote_starts": engine.NumberFromInt(5),
		"%won_website": engine.NumberFromFloat(0.12),
		"phone_clicks": engine.NumberFromInt(10),
		"conversions":  engine.NumberFromFloat(0.3),
	}
}

func submitApril(t *testing.T, srv *httptest.Server, clientID string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/clients/"+clientID+"/reports", SubmitReportRequest{
		PeriodEnd: "2026-04-30",
		Values:    aprilValues(),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: status %d body %s", resp.StatusCode, body)
	}
}

// =============================================================================
// REPORT FLOW
// =============================================================================

func TestAPI_SubmitAndRun(t *testing.T) {
	// GIVEN: Submitted April inputs
	// WHEN: Triggering a run
	// THEN: The snapshot comes back with the derived metrics

	srv := newTestServer(t)
	submitApril(t, srv, "agency-7")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/clients/agency-7/runs", RunRequest{PeriodEnd: "2026-04-30"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run: status %d body %s", resp.StatusCode, body)
	}

	var snap SnapshotDTO
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ClientID != "agency-7" || snap.Period != "2026-04" {
		t.Errorf("identity fields wrong: %+v", snap)
	}
	if got := snap.Values["hhs"].String(); got != "3.6" {
		t.Errorf("hhs: expected 3.6, got %s", got)
	}
	if snap.Sources["hhs"] != "calculated" {
		t.Errorf("hhs source: got %s", snap.Sources["hhs"])
	}

	// The persisted snapshot is retrievable by ID and in the history.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/snapshots/"+snap.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get snapshot: status %d body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/clients/agency-7/snapshots", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	var history []SnapshotDTO
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].ID != snap.ID {
		t.Errorf("expected the run in history, got %+v", history)
	}
}

func TestAPI_RunWithoutSubmission(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/clients/agency-7/runs", RunRequest{PeriodEnd: "2026-04-30"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPI_SnapshotNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/snapshots/no-such-snapshot", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPI_SubmitRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	cases := []SubmitReportRequest{
		{PeriodEnd: "April 2026", Values: aprilValues()},
		{PeriodEnd: "2026-04-30"}, // no values
	}
	for i, req := range cases {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/clients/agency-7/reports", req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, resp.StatusCode)
		}
	}
}

func TestAPI_TextInputsPassThrough(t *testing.T) {
	// Spreadsheet-style strings survive the submit/run round trip and are
	// coerced during calculation, not at the API boundary.
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/clients/agency-7/reports", SubmitReportRequest{
		PeriodEnd: "2026-04-30",
		Values: map[string]engine.Value{
			"quote_starts": engine.NumberFromInt(5),
			"%won_website": engine.TextValue("12%"),
			"phone_clicks": engine.NumberFromInt(10),
			"conversions":  engine.NumberFromFloat(0.3),
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: status %d body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/clients/agency-7/runs", RunRequest{PeriodEnd: "2026-04-30"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run: status %d body %s", resp.StatusCode, body)
	}
	var snap SnapshotDTO
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got := snap.Values["website_hhs"].String(); got != "0.6" {
		t.Errorf("website_hhs from \"12%%\": expected 0.6, got %s", got)
	}
}

func TestAPI_RunPendingSweep(t *testing.T) {
	srv := newTestServer(t)
	submitApril(t, srv, "agency-7")
	submitApril(t, srv, "agency-9")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/admin/run-pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep: status %d body %s", resp.StatusCode, body)
	}
	var sweep RunSweepDTO
	if err := json.Unmarshal(body, &sweep); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if sweep.Completed != 2 {
		t.Errorf("expected 2 completed runs, got %d", sweep.Completed)
	}

	// Both runs persisted; the queue is drained.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/admin/run-pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second sweep: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &sweep); err != nil {
		t.Fatalf("decode second sweep: %v", err)
	}
	if sweep.Completed != 0 {
		t.Errorf("expected drained queue, got %d", sweep.Completed)
	}
}

// =============================================================================
// OVERRIDES
// =============================================================================

func TestAPI_OverrideLifecycle(t *testing.T) {
	srv := newTestServer(t)
	submitApril(t, srv, "agency-7")

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/api/clients/agency-7/overrides/conversions",
		OverrideRequest{Value: engine.NumberFromFloat(0.5)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put override: status %d body %s", resp.StatusCode, body)
	}

	// Overriding a variable that does not exist in the catalog is rejected.
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/clients/agency-7/overrides/wom_website",
		OverrideRequest{Value: engine.NumberFromFloat(0.5)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown variable: expected 400, got %d", resp.StatusCode)
	}

	// The override applies to the next run.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/clients/agency-7/runs", RunRequest{PeriodEnd: "2026-04-30"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run: status %d body %s", resp.StatusCode, body)
	}
	var snap SnapshotDTO
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Sources["conversions"] != "override" {
		t.Errorf("expected override source, got %s", snap.Sources["conversions"])
	}
	if got := snap.Values["call_hhs"].String(); got != "5" {
		t.Errorf("call_hhs under override: expected 5, got %s", got)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/clients/agency-7/overrides/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list overrides: status %d", resp.StatusCode)
	}
	var listed map[string]engine.Value
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decode overrides: %v", err)
	}
	if len(listed) != 1 || !listed["conversions"].IsNumber() {
		t.Errorf("expected one numeric override, got %v", listed)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/clients/agency-7/overrides/conversions", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete override: expected 204, got %d", resp.StatusCode)
	}
}

// =============================================================================
// CATALOG AND HEALTH
// =============================================================================

func TestAPI_Catalog(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/catalog", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog: status %d", resp.StatusCode)
	}
	var defs []VariableDTO
	if err := json.Unmarshal(body, &defs); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	byName := make(map[string]VariableDTO)
	for _, d := range defs {
		byName[d.Name] = d
	}
	if byName["quote_starts"].Level != 0 || byName["quote_starts"].Kind != "input" {
		t.Errorf("quote_starts: %+v", byName["quote_starts"])
	}
	if byName["hhs"].Level <= byName["website_hhs"].Level {
		t.Errorf("hhs should sit above its dependencies: hhs=%d website_hhs=%d",
			byName["hhs"].Level, byName["website_hhs"].Level)
	}
	if byName["hhs"].Formula == "" {
		t.Error("calculated variables should expose their formula")
	}
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status %d", resp.StatusCode)
	}
}
