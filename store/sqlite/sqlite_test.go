package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/report-engine/engine"
	"github.com/meridian/report-engine/reports"
	"github.com/meridian/report-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:", "hhs")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func endOf(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// REPORT INPUT LIFECYCLE
// =============================================================================

func TestStore_SubmitAndLoadInputs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := map[string]engine.Value{
		"quote_starts": engine.NumberFromInt(5),
		"%won_website": engine.TextValue("12%"),
		"notes":        engine.TextValue("april flight"),
	}
	if err := store.SubmitInputs(ctx, "agency-7", endOf(2026, time.April), in); err != nil {
		t.Fatalf("SubmitInputs: %v", err)
	}

	got, err := store.RawInputs(ctx, "agency-7", endOf(2026, time.April))
	if err != nil {
		t.Fatalf("RawInputs: %v", err)
	}
	if !got["quote_starts"].Num.Equal(decimal.NewFromInt(5)) {
		t.Errorf("quote_starts: got %s", got["quote_starts"])
	}
	if got["%won_website"].Text != "12%" {
		t.Errorf("text values should round-trip verbatim, got %q", got["%won_website"].Text)
	}
}

func TestStore_RawInputs_Missing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.RawInputs(context.Background(), "agency-7", endOf(2026, time.April))
	if !errors.Is(err, reports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PendingLifecycle(t *testing.T) {
	// GIVEN: A submitted period
	// WHEN: Marking it processed
	// THEN: It leaves the pending set; resubmission makes it pending again

	store := newTestStore(t)
	ctx := context.Background()
	in := map[string]engine.Value{"quote_starts": engine.NumberFromInt(5)}

	if err := store.SubmitInputs(ctx, "agency-7", endOf(2026, time.April), in); err != nil {
		t.Fatalf("SubmitInputs: %v", err)
	}

	refs, err := store.PendingRuns(ctx)
	if err != nil {
		t.Fatalf("PendingRuns: %v", err)
	}
	if len(refs) != 1 || refs[0].ClientID != "agency-7" {
		t.Fatalf("expected one pending run for agency-7, got %+v", refs)
	}
	if !refs[0].PeriodEnd.Equal(endOf(2026, time.April)) {
		t.Errorf("period end should round-trip, got %s", refs[0].PeriodEnd)
	}

	if err := store.MarkProcessed(ctx, "agency-7", endOf(2026, time.April), "snap-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	refs, _ = store.PendingRuns(ctx)
	if len(refs) != 0 {
		t.Errorf("processed run should leave the pending set, got %+v", refs)
	}

	// Resubmitting reopens the period.
	if err := store.SubmitInputs(ctx, "agency-7", endOf(2026, time.April), in); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	refs, _ = store.PendingRuns(ctx)
	if len(refs) != 1 {
		t.Errorf("resubmission should be pending again, got %+v", refs)
	}
}

func TestStore_MarkProcessed_Missing(t *testing.T) {
	store := newTestStore(t)
	err := store.MarkProcessed(context.Background(), "agency-7", endOf(2026, time.April), "snap-1")
	if !errors.Is(err, reports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =============================================================================
// OVERRIDES
// =============================================================================

func TestStore_Overrides(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetOverride(ctx, "agency-7", "%won_website", engine.NumberFromFloat(0.5)); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	// Update in place.
	if err := store.SetOverride(ctx, "agency-7", "%won_website", engine.NumberFromFloat(0.4)); err != nil {
		t.Fatalf("SetOverride update: %v", err)
	}

	got, err := store.Overrides(ctx, "agency-7")
	if err != nil {
		t.Fatalf("Overrides: %v", err)
	}
	if len(got) != 1 || !got["%won_website"].Num.Equal(decimal.NewFromFloat(0.4)) {
		t.Errorf("expected the updated override, got %+v", got)
	}

	if err := store.DeleteOverride(ctx, "agency-7", "%won_website"); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	got, _ = store.Overrides(ctx, "agency-7")
	if len(got) != 0 {
		t.Errorf("expected no overrides after delete, got %+v", got)
	}
}

// =============================================================================
// SNAPSHOTS AND HISTORY
// =============================================================================

func marchSnapshot(id string, hhs float64) *engine.Snapshot {
	return &engine.Snapshot{
		ID:       id,
		ClientID: "agency-7",
		Period:   engine.ReportPeriod{Year: 2026, Month: time.March},
		Values: map[string]engine.Value{
			"hhs": engine.NumberFromFloat(hhs),
		},
		Sources:   map[string]string{"hhs": engine.SourceCalculated},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := marchSnapshot("snap-1", 3.6)
	snap.Diags = []engine.Diagnostic{{
		Variable: "cost", Code: engine.DiagMissingValue,
		Severity: engine.SeverityWarning, Message: "no value",
	}}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := store.Snapshot(ctx, "snap-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got.ClientID != "agency-7" || got.Period.Month != time.March {
		t.Errorf("identity fields should round-trip, got %+v", got)
	}
	if !got.Values["hhs"].Num.Equal(decimal.NewFromFloat(3.6)) {
		t.Errorf("hhs should round-trip, got %s", got.Values["hhs"])
	}
	if len(got.Diags) != 1 || got.Diags[0].Code != engine.DiagMissingValue {
		t.Errorf("diagnostics should round-trip, got %+v", got.Diags)
	}

	if _, err := store.Snapshot(ctx, "absent"); !errors.Is(err, reports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SnapshotsByClient_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, month := range []time.Month{time.February, time.April, time.March} {
		snap := marchSnapshot("", 1)
		snap.ID = []string{"snap-feb", "snap-apr", "snap-mar"}[i]
		snap.Period.Month = month
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	snaps, err := store.SnapshotsByClient(ctx, "agency-7")
	if err != nil {
		t.Fatalf("SnapshotsByClient: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	order := []string{"snap-apr", "snap-mar", "snap-feb"}
	for i, want := range order {
		if snaps[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, snaps[i].ID)
		}
	}
}

func TestStore_MonthlyMetric(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, marchSnapshot("snap-1", 120)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	v, ok, err := store.MonthlyMetric(ctx, "agency-7", 2026, time.March)
	if err != nil || !ok {
		t.Fatalf("MonthlyMetric: ok=%v err=%v", ok, err)
	}
	if !v.Equal(decimal.NewFromInt(120)) {
		t.Errorf("expected 120, got %s", v)
	}

	// No snapshot for February.
	_, ok, err = store.MonthlyMetric(ctx, "agency-7", 2026, time.February)
	if err != nil || ok {
		t.Errorf("absent month: ok=%v err=%v", ok, err)
	}

	// A rerun wins over the original.
	later := marchSnapshot("snap-2", 125)
	later.CreatedAt = time.Now().UTC().Add(time.Minute)
	if err := store.SaveSnapshot(ctx, later); err != nil {
		t.Fatalf("SaveSnapshot rerun: %v", err)
	}
	v, ok, _ = store.MonthlyMetric(ctx, "agency-7", 2026, time.March)
	if !ok || !v.Equal(decimal.NewFromInt(125)) {
		t.Errorf("latest snapshot should win, got %s", v)
	}
}

func TestStore_MonthlyMetric_NoDataMetric(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := marchSnapshot("snap-1", 0)
	snap.Values["hhs"] = engine.NoData()
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	_, ok, err := store.MonthlyMetric(ctx, "agency-7", 2026, time.March)
	if err != nil {
		t.Fatalf("MonthlyMetric: %v", err)
	}
	if ok {
		t.Error("a no-data metric should read as absent")
	}
}

// =============================================================================
// SERVICE INTEGRATION
// =============================================================================

func TestStore_DrivesServiceEndToEnd(t *testing.T) {
	// Full path: submit -> sweep -> snapshot persisted -> feeds next YTD.
	store := newTestStore(t)
	ctx := context.Background()

	svc, err := reports.NewService(reports.DefaultCatalog(), store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	inputs := map[string]engine.Value{
		"quote_starts": engine.NumberFromInt(5),
		"%won_website": engine.NumberFromFloat(0.12),
		"phone_clicks": engine.NumberFromInt(10),
		"conversions":  engine.NumberFromFloat(0.3),
	}
	if err := store.SubmitInputs(ctx, "agency-7", endOf(2026, time.March), inputs); err != nil {
		t.Fatalf("SubmitInputs: %v", err)
	}

	done, err := svc.RunPending(ctx)
	if err != nil || done != 1 {
		t.Fatalf("RunPending: done=%d err=%v", done, err)
	}

	// April's YTD should see March's hhs (3.6) in history.
	if err := store.SubmitInputs(ctx, "agency-7", endOf(2026, time.April), inputs); err != nil {
		t.Fatalf("SubmitInputs april: %v", err)
	}
	snap, err := svc.Run(ctx, "agency-7", endOf(2026, time.April))
	if err != nil {
		t.Fatalf("Run april: %v", err)
	}
	if !snap.Values["hhs_ytd"].Num.Equal(decimal.NewFromFloat(3.6)) {
		t.Errorf("april ytd should carry march's hhs, got %s", snap.Values["hhs_ytd"])
	}
}
