package engine_test

import (
	"testing"

	"github.com/meridian/report-engine/engine"
)

func num(f float64) engine.Value { return engine.NumberFromFloat(f) }

func floatOf(t *testing.T, v engine.Value) float64 {
	t.Helper()
	f, ok := v.Float64()
	if !ok {
		t.Fatalf("expected numeric value, got %v", v)
	}
	return f
}

// =============================================================================
// CONVERSION POLICY TESTS
// =============================================================================

func TestConvert_StringPercentage(t *testing.T) {
	// GIVEN: "25%" for an unconverted variable
	// WHEN: Converting
	// THEN: 0.25, marked converted

	tracker := engine.NewConversionTracker()
	out, converted := tracker.Convert("rate", engine.StageResolve, engine.TextValue("25%"))

	if got := floatOf(t, out); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	if !converted {
		t.Error("expected a conversion")
	}
	if !tracker.IsConverted("rate") {
		t.Error("variable should be marked converted")
	}
}

func TestConvert_WholeNumberIsUnnormalizedPercentage(t *testing.T) {
	tracker := engine.NewConversionTracker()
	out, converted := tracker.Convert("rate", engine.StageResolve, num(25))
	if got := floatOf(t, out); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	if !converted {
		t.Error("expected a conversion")
	}
}

func TestConvert_DecimalAlreadyNormalized(t *testing.T) {
	tracker := engine.NewConversionTracker()
	out, converted := tracker.Convert("rate", engine.StageResolve, num(0.15))
	if got := floatOf(t, out); got != 0.15 {
		t.Errorf("expected 0.15 unchanged, got %v", got)
	}
	if converted {
		t.Error("values in [0,1) must not be rescaled")
	}
}

func TestConvert_EdgeCases(t *testing.T) {
	// The value 1.0 is "1%" by policy, never an already-normalized 100%.
	cases := []struct {
		in   float64
		want float64
	}{
		{1, 0.01},
		{1.5, 0.015},
		{150, 1.5},
		{0.5, 0.5},
		{0, 0},
	}
	for _, c := range cases {
		tracker := engine.NewConversionTracker()
		out, _ := tracker.Convert("v", engine.StageResolve, num(c.in))
		if got := floatOf(t, out); got != c.want {
			t.Errorf("Convert(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestConvert_IdempotentAcrossStages(t *testing.T) {
	// GIVEN: "25%" converted at the resolve stage
	// WHEN: The same variable passes the guard at fallback, evaluate, output
	// THEN: Value never changes again; exactly one "converted" log entry

	tracker := engine.NewConversionTracker()

	v, _ := tracker.Convert("rate", engine.StageResolve, engine.TextValue("25%"))
	for _, stage := range []string{engine.StageFallback, engine.StageEvaluate, engine.StageOutput} {
		next, converted := tracker.Convert("rate", stage, v)
		if converted {
			t.Errorf("stage %s rescaled an already-converted value", stage)
		}
		if got := floatOf(t, next); got != 0.25 {
			t.Errorf("stage %s changed value to %v", stage, got)
		}
		v = next
	}

	// Even a raw-looking value >= 1 must not be rescaled once marked.
	out, converted := tracker.Convert("rate", engine.StageOutput, num(25))
	if converted || floatOf(t, out) != 25 {
		t.Error("marked variable must pass through unchanged")
	}

	log := tracker.Log()
	if len(log) != 5 {
		t.Fatalf("expected 5 log entries, got %d", len(log))
	}
	conversions := 0
	for _, e := range log {
		if e.Outcome == engine.OutcomeConverted {
			conversions++
		}
	}
	if conversions != 1 {
		t.Errorf("expected exactly 1 converted entry, got %d", conversions)
	}
}

func TestConvert_SecondCallOnNormalizedValue(t *testing.T) {
	// Converting 0.25 twice leaves it at 0.25.
	tracker := engine.NewConversionTracker()
	tracker.Convert("rate", engine.StageResolve, num(0.25))
	out, _ := tracker.Convert("rate", engine.StageEvaluate, num(0.25))
	if got := floatOf(t, out); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
}

func TestConvert_NoDataDoesNotClaimTheConversion(t *testing.T) {
	// GIVEN: The guard sees no-data first, then a real value
	// THEN: The real value still gets its one conversion

	tracker := engine.NewConversionTracker()
	out, converted := tracker.Convert("rate", engine.StageResolve, engine.NoData())
	if converted || !out.IsNoData() {
		t.Error("no-data must pass through unconverted")
	}
	if tracker.IsConverted("rate") {
		t.Error("no-data must not mark the variable")
	}

	out, converted = tracker.Convert("rate", engine.StageFallback, num(12))
	if !converted || floatOf(t, out) != 0.12 {
		t.Errorf("expected real value to convert to 0.12, got %v", out)
	}
}

func TestMarkResolved_PreventsRescaleOfCalculatedPercentages(t *testing.T) {
	// GIVEN: A calculated percentage of 1.5 (i.e. 150%) marked at evaluate
	// WHEN: The guard sees it again at output
	// THEN: It is not divided by 100

	tracker := engine.NewConversionTracker()
	tracker.MarkResolved("roi", engine.StageEvaluate, num(1.5))

	out, converted := tracker.Convert("roi", engine.StageOutput, num(1.5))
	if converted {
		t.Error("marked variable must not be rescaled")
	}
	if got := floatOf(t, out); got != 1.5 {
		t.Errorf("expected 1.5 unchanged, got %v", got)
	}
}

func TestConvert_LogRecordsStages(t *testing.T) {
	tracker := engine.NewConversionTracker()
	tracker.Convert("rate", engine.StageResolve, num(30))
	tracker.Convert("rate", engine.StageEvaluate, num(0.3))

	log := tracker.Log()
	if len(log) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(log))
	}
	if log[0].Stage != engine.StageResolve || log[0].Outcome != engine.OutcomeConverted {
		t.Errorf("first entry wrong: %+v", log[0])
	}
	if log[1].Stage != engine.StageEvaluate || log[1].Outcome != engine.OutcomeSkipped {
		t.Errorf("second entry wrong: %+v", log[1])
	}
}
