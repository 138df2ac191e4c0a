/*
handlers_test.go - HTTP round trips through the router

Tests for:
- Text validation with positioned problems
- Storing, compiling and evaluating equations
- Error statuses (400, 404, 422)
- Holiday lookup for holiday rules and shift hours
*/
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/store/sqlite"
)

type testServer struct {
	*httptest.Server
	store *sqlite.Store
	cache *equation.Cache
}

func newTestServer(t *testing.T) *testServer {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)

	cache := equation.NewCache(equation.NewCompiler(), zerolog.Nop())
	h := NewHandler(s, cache, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(h, RouterOptions{}))

	t.Cleanup(func() {
		srv.Close()
		cache.Close()
		s.Close()
	})
	return &testServer{Server: srv, store: s, cache: cache}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func grossPay() PutEquationRequest {
	return PutEquationRequest{
		Equations: []equation.Definition{
			{Name: "Gross", ReturnType: equation.ReturnDecimal, Expression: "[Hours] * Rate", QuantitySource: "Hours"},
			{Name: "Label", ReturnType: equation.ReturnText, Expression: `[Hours] > 40 ? "overtime" : "regular"`},
		},
		Variables: []equation.Variable{
			{Name: "Rate", Value: decimal.NewFromInt(20)},
			{Name: "Hours", Cacheable: true, MetricType: "TIME"},
		},
	}
}

type evaluateBody struct {
	Artifact string `json:"artifact"`
	Results  []struct {
		Name     string `json:"name"`
		Value    any    `json:"value"`
		Quantity string `json:"quantity"`
	} `json:"results"`
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_ReturnsNormalizedParts(t *testing.T) {
	ts := newTestServer(t)

	status, raw := ts.do(t, http.MethodPost, "/api/validate", ValidateRequest{
		Expression:     "[Hours]   *  1.5",
		QuantitySource: "Hours",
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	resp := decode[ValidateResponse](t, raw)
	assert.True(t, resp.Valid)
	require.Len(t, resp.Parts, 2)
	assert.Equal(t, equation.PartEquation, resp.Parts[0].Part)
	assert.Equal(t, "[Hours] * 1.5", resp.Parts[0].Text)
	assert.Equal(t, []string{"Hours"}, resp.Parts[0].Metrics)
	assert.Equal(t, "[Hours]", resp.Parts[1].Text)
}

func TestValidate_ReportsPositions(t *testing.T) {
	ts := newTestServer(t)

	status, raw := ts.do(t, http.MethodPost, "/api/validate", ValidateRequest{Expression: "([Hours] * 2"})
	require.Equal(t, http.StatusOK, status)

	resp := decode[ValidateResponse](t, raw)
	assert.False(t, resp.Valid)
	require.Len(t, resp.Problems, 1)
	assert.Equal(t, equation.PartEquation, resp.Problems[0].Part)
	assert.Equal(t, 0, resp.Problems[0].Position)
}

func TestValidate_RequiresExpression(t *testing.T) {
	ts := newTestServer(t)

	status, raw := ts.do(t, http.MethodPost, "/api/validate", ValidateRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(raw), "expression")
}

// =============================================================================
// EQUATIONS
// =============================================================================

func TestPutAndEvaluate(t *testing.T) {
	ts := newTestServer(t)
	loc := decimal.NewFromInt(5)

	status, raw := ts.do(t, http.MethodPut, "/api/equations/12", grossPay())
	require.Equal(t, http.StatusOK, status, string(raw))

	status, raw = ts.do(t, http.MethodPost, "/api/metrics", store.Metric{
		Name: "Hours", Value: decimal.NewFromInt(8), EffectiveAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), LocationID: &loc,
	})
	require.Equal(t, http.StatusCreated, status, string(raw))

	// GIVEN a request-local override of Rate
	status, raw = ts.do(t, http.MethodPost, "/api/equations/12/evaluate", EvaluateRequest{
		Names:     []string{"Gross", "Label"},
		Params:    ParamsDTO{LocationID: loc},
		Variables: map[string]decimal.Decimal{"Rate": decimal.NewFromInt(25)},
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	body := decode[evaluateBody](t, raw)
	assert.Equal(t, "equation_12", body.Artifact)
	require.Len(t, body.Results, 2)
	assert.Equal(t, "200", body.Results[0].Value)
	assert.Equal(t, "8", body.Results[0].Quantity)
	assert.Equal(t, "regular", body.Results[1].Value)

	// THEN the override does not leak into the next request
	status, raw = ts.do(t, http.MethodPost, "/api/equations/12/evaluate", EvaluateRequest{
		Names:  []string{"Gross"},
		Params: ParamsDTO{LocationID: loc},
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, "160", decode[evaluateBody](t, raw).Results[0].Value)

	// the set is now cached
	status, raw = ts.do(t, http.MethodGet, "/api/equations", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[struct {
		Equations []EquationSummaryDTO `json:"equations"`
	}](t, raw)
	require.Len(t, list.Equations, 1)
	assert.True(t, list.Equations[0].Cached)
	assert.Equal(t, "Ready", list.Equations[0].State)
}

func TestPutEquation_InvalidatesCache(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	status, _ := ts.do(t, http.MethodPut, "/api/equations/3", grossPay())
	require.Equal(t, http.StatusOK, status)
	first, err := ts.cache.GetOrBuild(ctx, decimal.NewFromInt(3), ts.store, ts.store)
	require.NoError(t, err)

	status, _ = ts.do(t, http.MethodPut, "/api/equations/3", grossPay())
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, equation.Released, first.State())
	assert.Nil(t, ts.cache.Get(decimal.NewFromInt(3)))
}

func TestPutEquation_CompileErrorsAreNotStored(t *testing.T) {
	ts := newTestServer(t)

	bad := grossPay()
	bad.Equations[0].Expression = "[Hours] * Missing"
	status, raw := ts.do(t, http.MethodPut, "/api/equations/4", bad)
	require.Equal(t, http.StatusUnprocessableEntity, status, string(raw))

	resp := decode[ErrorResponse](t, raw)
	require.NotEmpty(t, resp.Problems)
	assert.Equal(t, "Gross", resp.Problems[0].Equation)

	status, _ = ts.do(t, http.MethodGet, "/api/equations/4", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEvaluate_Errors(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, http.MethodPut, "/api/equations/8", grossPay())
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, "/api/equations/8/evaluate", EvaluateRequest{Names: []string{"Nope"}})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodPost, "/api/equations/99/evaluate", EvaluateRequest{Names: []string{"Gross"}})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodPost, "/api/equations/abc/evaluate", EvaluateRequest{Names: []string{"Gross"}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPost, "/api/equations/8/evaluate", EvaluateRequest{
		Names:     []string{"Gross"},
		Variables: map[string]decimal.Decimal{"Unknown": decimal.NewFromInt(1)},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPost, "/api/equations/8/evaluate", EvaluateRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestParamsDTO_PeriodType(t *testing.T) {
	p := ParamsDTO{PeriodType: "semi_monthly", PayDate: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)}.toParams()
	assert.True(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC).Equal(p.Period.Start))
	assert.True(t, time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC).Equal(p.Period.End))

	// an explicit period wins
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p = ParamsDTO{PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 6), PeriodType: "monthly", PayDate: start}.toParams()
	assert.True(t, start.AddDate(0, 0, 6).Equal(p.Period.End))
}

func TestEvaluate_RejectsUnknownPeriodType(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, http.MethodPut, "/api/equations/8", grossPay())
	require.Equal(t, http.StatusOK, status)

	status, raw := ts.do(t, http.MethodPost, "/api/equations/8/evaluate", EvaluateRequest{
		Names:  []string{"Gross"},
		Params: ParamsDTO{PeriodType: "daily", PayDate: time.Now()},
	})
	assert.Equal(t, http.StatusBadRequest, status, string(raw))
}

func TestInvalidateEquation(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, http.MethodPut, "/api/equations/2", grossPay())
	require.Equal(t, http.StatusOK, status)
	_, err := ts.cache.GetOrBuild(context.Background(), decimal.NewFromInt(2), ts.store, ts.store)
	require.NoError(t, err)

	status, _ = ts.do(t, http.MethodDelete, "/api/equations/2/cache", nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 0, ts.cache.Len())
}

// =============================================================================
// HOLIDAYS AND SHIFTS
// =============================================================================

func TestShiftQualify_LooksUpHoliday(t *testing.T) {
	ts := newTestServer(t)
	loc := decimal.NewFromInt(10)

	status, raw := ts.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{
		Name:  "Independence Day",
		Start: time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 7, 4, 23, 59, 59, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, status, string(raw))

	shift := map[string]any{
		"scheduled_in":  "2025-07-04T08:00:00Z",
		"scheduled_out": "2025-07-04T16:00:00Z",
		"location_id":   loc,
	}
	status, raw = ts.do(t, http.MethodPost, "/api/shifts/hours", map[string]any{
		"shift":  shift,
		"window": map[string]any{"begin": "00:00", "end": "00:00", "equation_type": "HOL"},
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	resp := decode[ShiftResponse](t, raw)
	assert.True(t, resp.Qualifies)
	require.NotNil(t, resp.Holiday)
	assert.Equal(t, "Independence Day", resp.Holiday.Name)
	require.NotNil(t, resp.Hours)
	assert.True(t, decimal.NewFromInt(8).Equal(*resp.Hours))

	status, raw = ts.do(t, http.MethodGet, "/api/holidays", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "Independence Day")
}

func TestShiftHours_NightWindow(t *testing.T) {
	ts := newTestServer(t)

	status, raw := ts.do(t, http.MethodPost, "/api/shifts/hours", map[string]any{
		"shift": map[string]any{
			"scheduled_in":  "2025-06-02T20:00:00Z",
			"scheduled_out": "2025-06-03T04:30:00Z",
		},
		"window": map[string]any{"begin": "22:00", "end": "06:00"},
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	resp := decode[ShiftResponse](t, raw)
	assert.False(t, resp.Qualifies)
	assert.Equal(t, "SCHEDULED", string(resp.Mode))
	require.NotNil(t, resp.Hours)
	assert.True(t, decimal.RequireFromString("6.5").Equal(*resp.Hours), resp.Hours.String())
	assert.True(t, decimal.RequireFromString("8.5").Equal(*resp.ShiftLength))

	status, raw = ts.do(t, http.MethodPost, "/api/shifts/qualify", map[string]any{
		"shift":  map[string]any{"scheduled_in": "2025-06-02T23:00:00Z", "scheduled_out": "2025-06-03T07:00:00Z"},
		"window": map[string]any{"begin": "22:00", "end": "06:00"},
		"mode":   "ACTUAL",
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.True(t, decode[ShiftResponse](t, raw).Qualifies)

	status, _ = ts.do(t, http.MethodPost, "/api/shifts/qualify", map[string]any{"mode": "SOMETIMES"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&equation.BuildError{}))
	assert.Equal(t, http.StatusBadRequest, statusFor(errInvalidRequest))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
