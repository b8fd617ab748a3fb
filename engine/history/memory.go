// Package history provides HistoryLookup implementations.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY LOOKUP - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	values map[key]decimal.Decimal

	// Err, when set, is returned by every lookup. Lets tests exercise the
	// query-failure fallback branch.
	Err error
}

type key struct {
	ClientID string
	Year     int
	Month    time.Month
}

func NewMemory() *Memory {
	return &Memory{values: make(map[key]decimal.Decimal)}
}

// Set records a complete month's metric value.
func (m *Memory) Set(clientID string, year int, month time.Month, value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key{ClientID: clientID, Year: year, Month: month}] = value
}

// MonthlyMetric implements engine.HistoryLookup.
func (m *Memory) MonthlyMetric(_ context.Context, clientID string, year int, month time.Month) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return decimal.Zero, false, m.Err
	}
	v, ok := m.values[key{ClientID: clientID, Year: year, Month: month}]
	return v, ok, nil
}
