/*
handlers.go - HTTP API handlers for the payroll equation engine

PURPOSE:
  Exposes equation validation, equation storage, evaluation and shift
  matching over REST. Handlers parse the request, call the engine and map
  its errors to HTTP statuses.

ENDPOINTS:
  Validation:
    POST   /api/validate                     Check expression, condition, quantity

  Equations:
    GET    /api/equations                    List stored ids and cache state
    GET    /api/equations/{id}               Definitions of one id
    PUT    /api/equations/{id}               Replace definitions (invalidates cache)
    POST   /api/equations/{id}/evaluate      Evaluate names in a fresh session
    DELETE /api/equations/{id}/cache         Drop the compiled set

  Metrics and holidays:
    POST   /api/metrics                      Record a metric value
    GET    /api/holidays                     List holidays
    POST   /api/holidays                     Create a holiday
    DELETE /api/holidays/{id}                Delete a holiday

  Shifts:
    POST   /api/shifts/qualify               Does the shift belong to the rule?
    POST   /api/shifts/hours                 Hours of the shift paid by the rule

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid body, syntax errors, duplicate names, type mismatches
  - 404: Unknown equation id, equation name or holiday
  - 409: Compiled set released or not ready; retry
  - 422: The stored equations do not compile
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/timerange"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store store.Store
	Cache *equation.Cache
	log   zerolog.Logger
}

func NewHandler(s store.Store, cache *equation.Cache, log zerolog.Logger) *Handler {
	return &Handler{Store: s, Cache: cache, log: log.With().Str("component", "api").Logger()}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate runs the structural checks on an equation's three texts.
// POST /api/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := bind(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := ValidateResponse{Valid: true}
	texts := []struct {
		part equation.Part
		text string
	}{
		{equation.PartEquation, req.Expression},
		{equation.PartCondition, req.Condition},
		{equation.PartQuantity, equation.FixQuantitySource(req.QuantitySource)},
	}
	for _, t := range texts {
		p, err := equation.Validate(t.part, t.text)
		if err != nil {
			resp.Valid = false
			resp.Problems = append(resp.Problems, equation.Problems(err)...)
			continue
		}
		if p.Empty() {
			continue
		}
		metrics := p.Metrics
		if metrics == nil {
			metrics = []string{}
		}
		resp.Parts = append(resp.Parts, PartDTO{Part: p.Part, Text: p.Text, Annotated: p.Annotated, Metrics: metrics})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// =============================================================================
// EQUATIONS
// =============================================================================

// ListEquations returns every stored equation id with its cache state.
// GET /api/equations
func (h *Handler) ListEquations(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Store.ListEquationIDs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]EquationSummaryDTO, 0, len(ids))
	for _, id := range ids {
		dto := EquationSummaryDTO{ID: id}
		if ev := h.Cache.Get(id); ev != nil {
			dto.Cached = true
			dto.State = ev.State().String()
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"equations": dtos})
}

// GetEquation returns the definitions stored under an id.
// GET /api/equations/{id}
func (h *Handler) GetEquation(w http.ResponseWriter, r *http.Request) {
	id, err := equationID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defs, vars, err := h.Store.FetchDefinitions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.equationDTO(id, defs, vars))
}

// PutEquation compiles the new definitions, stores them and drops the
// cached set so the next evaluation rebuilds. Nothing is stored when the
// definitions do not compile.
// PUT /api/equations/{id}
func (h *Handler) PutEquation(w http.ResponseWriter, r *http.Request) {
	id, err := equationID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req PutEquationRequest
	if err := bind(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	batch := equation.Batch{Name: equation.ArtifactName(id), Equations: req.Equations, Variables: req.Variables}
	if _, err := equation.NewProgram(batch); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.SaveEquation(r.Context(), id, req.Equations, req.Variables); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Cache.Invalidate(id)

	h.log.Info().
		Str("equation", batch.Name).
		Int("equations", len(req.Equations)).
		Int("variables", len(req.Variables)).
		Msg("equation definitions replaced")

	writeJSON(w, r, http.StatusOK, h.equationDTO(id, req.Equations, req.Variables))
}

// Evaluate builds (or reuses) the compiled set and evaluates the requested
// names in a session bound to the request's parameters.
// POST /api/equations/{id}/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := equationID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req EvaluateRequest
	if err := bind(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ev, err := h.Cache.GetOrBuild(ctx, id, h.Store, h.Store)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := ev.Session(req.Params.toParams(), nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for name, value := range req.Variables {
		if err := session.SetVariable(name, value); err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err))
			return
		}
	}

	resp := EvaluateResponse{ID: id, Artifact: ev.Name(), Results: make([]ResultDTO, 0, len(req.Names))}
	for _, name := range req.Names {
		value, err := session.Evaluate(ctx, name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		qty, err := session.EvaluateQuantitySource(ctx, name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Results = append(resp.Results, ResultDTO{Name: name, Value: value, Quantity: qty})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// InvalidateEquation drops the compiled set of an id.
// DELETE /api/equations/{id}/cache
func (h *Handler) InvalidateEquation(w http.ResponseWriter, r *http.Request) {
	id, err := equationID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Cache.Invalidate(id)
	render.NoContent(w, r)
}

func (h *Handler) equationDTO(id decimal.Decimal, defs []equation.Definition, vars []equation.Variable) EquationDTO {
	if vars == nil {
		vars = []equation.Variable{}
	}
	dto := EquationDTO{ID: id, Artifact: equation.ArtifactName(id), Equations: defs, Variables: vars}
	if ev := h.Cache.Get(id); ev != nil {
		dto.State = ev.State().String()
		dto.Metrics = ev.Metrics()
	}
	return dto
}

// =============================================================================
// METRICS
// =============================================================================

// RecordMetric stores one dated metric value.
// POST /api/metrics
func (h *Handler) RecordMetric(w http.ResponseWriter, r *http.Request) {
	var m store.Metric
	if err := bind(r, &m); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.RecordMetric(r.Context(), m); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{"status": "recorded", "metric": m.Name})
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns all holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if holidays == nil {
		holidays = []timerange.Holiday{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"holidays": holidays})
}

// CreateHoliday creates a new holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := bind(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	holiday := timerange.Holiday{Name: req.Name, Start: req.Start, End: req.End, LocationID: req.LocationID}
	id, err := h.Store.SaveHoliday(r.Context(), holiday)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	holiday.ID = id
	writeJSON(w, r, http.StatusCreated, holiday)
}

// DeleteHoliday removes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: holiday id: %v", errInvalidRequest, err))
		return
	}
	if err := h.Store.DeleteHoliday(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// =============================================================================
// SHIFTS
// =============================================================================

// QualifyShift reports whether the shift's scheduled start belongs to the
// rule.
// POST /api/shifts/qualify
func (h *Handler) QualifyShift(w http.ResponseWriter, r *http.Request) {
	m, mode, err := h.matcher(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ShiftResponse{Qualifies: m.ShiftQualifies(), Mode: mode, Holiday: m.Holiday})
}

// ShiftHours returns the hours of the shift paid by the rule.
// POST /api/shifts/hours
func (h *Handler) ShiftHours(w http.ResponseWriter, r *http.Request) {
	m, mode, err := h.matcher(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hours := m.QualifyingHours(mode)
	length := m.ShiftLength(mode)
	writeJSON(w, r, http.StatusOK, ShiftResponse{
		Qualifies:   m.ShiftQualifies(),
		Hours:       &hours,
		ShiftLength: &length,
		Mode:        mode,
		Holiday:     m.Holiday,
	})
}

func (h *Handler) matcher(r *http.Request) (*timerange.Matcher, timerange.Mode, error) {
	var req ShiftRequest
	if err := bind(r, &req); err != nil {
		return nil, "", err
	}
	mode := req.Mode
	if mode == "" {
		mode = timerange.Scheduled
	}

	holiday := req.Holiday
	if holiday == nil && req.Window.IsHoliday() {
		found, err := store.HolidayFor(r.Context(), h.Store, req.Shift)
		if err != nil {
			return nil, "", err
		}
		holiday = found
	}
	return timerange.New(req.Shift, req.Window, holiday), mode, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func equationID(r *http.Request) (decimal.Decimal, error) {
	raw := chi.URLParam(r, "id")
	id, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: equation id %q", errInvalidRequest, raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

// statusFor maps engine errors to HTTP statuses. Build errors are checked
// first because they wrap client errors.
func statusFor(err error) int {
	var be *equation.BuildError
	switch {
	case errors.As(err, &be):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errInvalidRequest), generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsRetryable(err), errors.Is(err, generic.ErrNotReady):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:    http.StatusText(status),
		Details:  err.Error(),
		Problems: equation.Problems(err),
	})
}
