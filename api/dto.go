/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal engine model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/context.go: The Snapshot these DTOs project
*/
package api

import (
	"time"

	"github.com/meridian/report-engine/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitReportRequest carries the raw input values for one client period.
// Values accept numbers, spreadsheet-style strings ("$1,234", "12%") and
// null for explicitly absent data.
type SubmitReportRequest struct {
	PeriodEnd string                  `json:"period_end"` // YYYY-MM-DD
	Values    map[string]engine.Value `json:"values"`
}

// RunRequest triggers a calculation for an already submitted period.
type RunRequest struct {
	PeriodEnd string `json:"period_end"` // YYYY-MM-DD
}

// OverrideRequest sets one static override value for a client.
type OverrideRequest struct {
	Value engine.Value `json:"value"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SnapshotDTO is the wire form of a frozen run result.
type SnapshotDTO struct {
	ID          string                    `json:"id"`
	ClientID    string                    `json:"client_id"`
	Period      string                    `json:"period"` // YYYY-MM
	Values      map[string]engine.Value   `json:"values"`
	Sources     map[string]string         `json:"sources"`
	YTD         *engine.YTDMetadata       `json:"ytd,omitempty"`
	Validation  engine.ValidationReport   `json:"validation"`
	Diagnostics []engine.Diagnostic       `json:"diagnostics"`
	Conversions []ConversionDTO           `json:"conversions,omitempty"`
	CreatedAt   string                    `json:"created_at"`
}

// ConversionDTO is one percentage-guard audit record.
type ConversionDTO struct {
	Variable string       `json:"variable"`
	Stage    string       `json:"stage"`
	From     engine.Value `json:"from"`
	To       engine.Value `json:"to"`
	Outcome  string       `json:"outcome"`
}

// VariableDTO describes one catalog entry.
type VariableDTO struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	DataType   string `json:"data_type"`
	Formula    string `json:"formula,omitempty"`
	Validation string `json:"validation,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Level      int    `json:"level"`
}

// RunSweepDTO reports the outcome of a pending-run sweep.
type RunSweepDTO struct {
	Completed int `json:"completed"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSnapshotDTO(snap *engine.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		ID:          snap.ID,
		ClientID:    snap.ClientID,
		Period:      snap.Period.String(),
		Values:      snap.Values,
		Sources:     snap.Sources,
		YTD:         snap.YTD,
		Validation:  snap.Report,
		Diagnostics: snap.Diags,
		CreatedAt:   snap.CreatedAt.Format(time.RFC3339),
	}
	for _, e := range snap.Log {
		dto.Conversions = append(dto.Conversions, ConversionDTO{
			Variable: e.Variable,
			Stage:    e.Stage,
			From:     e.From,
			To:       e.To,
			Outcome:  e.Outcome,
		})
	}
	return dto
}

func toVariableDTO(def engine.VariableDefinition, level int) VariableDTO {
	return VariableDTO{
		Name:       def.Name,
		Kind:       string(def.Kind),
		DataType:   string(def.DataType),
		Formula:    def.Formula,
		Validation: def.ValidationRule,
		Expected:   def.ExpectedRule,
		Level:      level,
	}
}
