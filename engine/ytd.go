/*
ytd.go - Year-to-date resolver

PURPOSE:
  Computes the year-to-date aggregate for one tracked metric (the household
  count) from the current run's resolved value plus historical values for
  earlier months of the same calendar year, obtained through an injected
  lookup interface. This is the only I/O-bound step of a run.

FALLBACK POLICY (preserved business decision):
  When no historical value exists for any prior month, the current month's
  value is reported as the whole YTD figure rather than a misleadingly low
  sum-of-missing-as-zero. The query-failure case and the no-data-found case
  share that control flow and differ only in the recorded reason text.
  When at least one historical value exists, YTD is the sum of the found
  values only; missing months are reported as "missing", never coerced to
  zero.

SEE ALSO:
  - engine.go: Invokes the resolver once the tracked metric settles
  - store/sqlite: Production HistoryLookup over persisted snapshots
  - engine/history: In-memory HistoryLookup for tests
*/
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HISTORY LOOKUP - Injected collaborator interface
// =============================================================================

// HistoryLookup resolves a metric's value for one complete historical month.
// The second return is false when no record exists for that month. Retry and
// caching policy, if any, belong to the implementation.
type HistoryLookup interface {
	MonthlyMetric(ctx context.Context, clientID string, year int, month time.Month) (decimal.Decimal, bool, error)
}

// HistoryLookupFunc adapts a function to the HistoryLookup interface.
type HistoryLookupFunc func(ctx context.Context, clientID string, year int, month time.Month) (decimal.Decimal, bool, error)

func (f HistoryLookupFunc) MonthlyMetric(ctx context.Context, clientID string, year int, month time.Month) (decimal.Decimal, bool, error) {
	return f(ctx, clientID, year, month)
}

// =============================================================================
// YTD METADATA
// =============================================================================

// MonthValue is one month's contribution to the YTD aggregate.
type MonthValue struct {
	Value   decimal.Decimal
	Missing bool
}

// MarshalJSON renders a found month as its number and a missing month as
// the literal string "missing", mirroring the report payload format.
func (m MonthValue) MarshalJSON() ([]byte, error) {
	if m.Missing {
		return json.Marshal("missing")
	}
	return []byte(m.Value.String()), nil
}

func (m *MonthValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "missing" {
			*m = MonthValue{Missing: true}
			return nil
		}
		d, derr := decimal.NewFromString(s)
		if derr != nil {
			return derr
		}
		*m = MonthValue{Value: d}
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return err
	}
	*m = MonthValue{Value: d}
	return nil
}

// YTDMetadata is the per-run result of the resolver, embedded in the
// final report payload for transparency.
type YTDMetadata struct {
	Months            map[int]MonthValue `json:"months"`
	YTDValue          Value              `json:"ytd_value"`
	Reason            string             `json:"reason,omitempty"`
	CurrentMonthValue *Value             `json:"current_month_value,omitempty"`
}

// =============================================================================
// YTD RESOLVER
// =============================================================================

// YTDResolver computes the time-windowed aggregate for one metric.
type YTDResolver struct {
	History HistoryLookup
}

// Resolve computes the YTD value for the period, given the current month's
// resolved metric. It never fails: query errors surface as a diagnostic on
// the metadata reason and trigger the current-month fallback.
func (r *YTDResolver) Resolve(ctx context.Context, clientID string, period ReportPeriod, current Value) (Value, *YTDMetadata, *Diagnostic) {
	months := make(map[int]MonthValue)

	// January: no earlier months exist in the year, skip the lookup.
	if period.IsJanuary() {
		if current.IsNoData() {
			return NoData(), &YTDMetadata{
				Months:   months,
				YTDValue: NoData(),
				Reason:   "no previous months in current year and no current month value available",
			}, nil
		}
		return current, &YTDMetadata{
			Months:            months,
			YTDValue:          current,
			Reason:            "no previous months in current year, using current month value",
			CurrentMonthValue: &current,
		}, nil
	}

	var queryErr error
	found := 0
	sum := decimal.Zero
	for m := time.January; m < period.Month; m++ {
		if queryErr != nil {
			months[int(m)] = MonthValue{Missing: true}
			continue
		}
		value, ok, err := r.History.MonthlyMetric(ctx, clientID, period.Year, m)
		if err != nil {
			queryErr = err
			months[int(m)] = MonthValue{Missing: true}
			continue
		}
		if !ok {
			months[int(m)] = MonthValue{Missing: true}
			continue
		}
		months[int(m)] = MonthValue{Value: value}
		sum = sum.Add(value)
		found++
	}

	var diag *Diagnostic
	if queryErr != nil {
		diag = &Diagnostic{
			Code:     DiagHistoryQuery,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("historical query failed: %v", queryErr),
		}
	}

	// No prior data at all: use the current month's value as the best
	// available estimate. Query failure and genuinely absent data share
	// this branch and differ only in the reason text.
	if found == 0 {
		reason := "no historical data found, using current month value"
		if queryErr != nil {
			reason = fmt.Sprintf("historical query failed (%v), using current month value", queryErr)
		}
		if current.IsNoData() {
			return NoData(), &YTDMetadata{
				Months:   months,
				YTDValue: NoData(),
				Reason:   "no historical data and no current month value available",
			}, diag
		}
		return current, &YTDMetadata{
			Months:            months,
			YTDValue:          current,
			Reason:            reason,
			CurrentMonthValue: &current,
		}, diag
	}

	ytd := Number(sum)
	return ytd, &YTDMetadata{
		Months:   months,
		YTDValue: ytd,
	}, diag
}
