/*
dto.go - Request and response bodies of the payroll API

NAMING CONVENTION:
  - *Request: Bodies sent by clients, checked with validator tags
  - *DTO / *Response: Bodies returned to clients

DECIMALS:
  Decimals travel as JSON strings ("12.50") so no digit is lost. Numbers
  are accepted on input.

TIMES:
  Instants are RFC 3339. Times of day are "HH:MM" or "HH:MM:SS".

SEE ALSO:
  - handlers.go: Uses these types
  - bind.go: Decoding and validation
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/timerange"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateRequest checks equation text without compiling a batch.
type ValidateRequest struct {
	Expression     string `json:"expression" validate:"required"`
	Condition      string `json:"condition,omitempty"`
	QuantitySource string `json:"quantity_source,omitempty"`
}

// PartDTO is the normalized form of one validated text.
type PartDTO struct {
	Part      equation.Part `json:"part"`
	Text      string        `json:"text"`
	Annotated string        `json:"annotated"`
	Metrics   []string      `json:"metrics"`
}

type ValidateResponse struct {
	Valid    bool         `json:"valid"`
	Parts    []PartDTO    `json:"parts"`
	Problems []equation.Problem `json:"problems,omitempty"`
}

// =============================================================================
// EQUATIONS
// =============================================================================

// PutEquationRequest replaces the definitions stored under an equation id.
type PutEquationRequest struct {
	Equations []equation.Definition `json:"equations" validate:"required,min=1,dive"`
	Variables []equation.Variable   `json:"variables" validate:"dive"`
}

// EquationSummaryDTO is one row of the equation list.
type EquationSummaryDTO struct {
	ID     decimal.Decimal `json:"id"`
	Cached bool            `json:"cached"`
	State  string          `json:"state,omitempty"`
}

type EquationDTO struct {
	ID        decimal.Decimal       `json:"id"`
	Artifact  string                `json:"artifact"`
	Equations []equation.Definition `json:"equations"`
	Variables []equation.Variable   `json:"variables"`
	State     string                `json:"state,omitempty"`
	Metrics   []string              `json:"metrics,omitempty"`
}

// ParamsDTO carries the run parameters of an evaluation. Without an
// explicit period, PeriodType and PayDate select the pay period that
// contains PayDate.
type ParamsDTO struct {
	PeriodStart        time.Time          `json:"period_start"`
	PeriodEnd          time.Time          `json:"period_end" validate:"omitempty,gtefield=PeriodStart"`
	PeriodType         generic.PeriodType `json:"period_type,omitempty" validate:"omitempty,oneof=weekly biweekly semi_monthly monthly"`
	PayDate            time.Time          `json:"pay_date" validate:"required_with=PeriodType"`
	ProviderLocationID decimal.Decimal    `json:"provider_location_id"`
	LocationID         decimal.Decimal    `json:"location_id"`
	ProcessID          decimal.Decimal    `json:"process_id"`
	PayHeaderID        decimal.Decimal    `json:"pay_header_id"`
	ScheduleType       string             `json:"schedule_type,omitempty"`
}

func (p ParamsDTO) toParams() equation.Params {
	period := generic.Period{Start: p.PeriodStart, End: p.PeriodEnd}
	if period.IsZero() && p.PeriodType != "" {
		period = generic.PeriodConfig{Type: p.PeriodType}.PeriodFor(p.PayDate)
	}
	return equation.Params{
		Period:             period,
		ProviderLocationID: p.ProviderLocationID,
		LocationID:         p.LocationID,
		ProcessID:          p.ProcessID,
		PayHeaderID:        p.PayHeaderID,
		ScheduleType:       p.ScheduleType,
	}
}

// EvaluateRequest evaluates names of one compiled set in a fresh session.
// Variables override constants for this request only.
type EvaluateRequest struct {
	Names     []string                   `json:"names" validate:"required,min=1,dive,required"`
	Params    ParamsDTO                  `json:"params"`
	Variables map[string]decimal.Decimal `json:"variables,omitempty"`
}

type ResultDTO struct {
	Name     string          `json:"name"`
	Value    equation.Value  `json:"value"`
	Quantity decimal.Decimal `json:"quantity"`
}

type EvaluateResponse struct {
	ID       decimal.Decimal `json:"id"`
	Artifact string          `json:"artifact"`
	Results  []ResultDTO     `json:"results"`
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type CreateHolidayRequest struct {
	Name       string           `json:"name" validate:"required"`
	Start      time.Time        `json:"start" validate:"required"`
	End        time.Time        `json:"end" validate:"required,gtefield=Start"`
	LocationID *decimal.Decimal `json:"location_id,omitempty"`
}

// =============================================================================
// SHIFTS
// =============================================================================

// ShiftRequest matches one shift against one rule window. A holiday rule
// without an inline holiday looks one up in the calendar.
type ShiftRequest struct {
	Shift   timerange.Shift    `json:"shift"`
	Window  timerange.Window   `json:"window"`
	Holiday *timerange.Holiday `json:"holiday,omitempty"`
	Mode    timerange.Mode     `json:"mode,omitempty" validate:"omitempty,oneof=ACTUAL SCHEDULED"`
}

type ShiftResponse struct {
	Qualifies   bool               `json:"qualifies"`
	Hours       *decimal.Decimal   `json:"hours,omitempty"`
	ShiftLength *decimal.Decimal   `json:"shift_length,omitempty"`
	Mode        timerange.Mode     `json:"mode"`
	Holiday     *timerange.Holiday `json:"holiday,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string       `json:"error"`
	Details  string       `json:"details,omitempty"`
	Problems []equation.Problem `json:"problems,omitempty"`
}
