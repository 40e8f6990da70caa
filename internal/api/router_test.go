package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"
)

var day0 = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, step time.Duration, days int, countries ...string) *gin.Engine {
	t.Helper()
	set, err := data.ToSet(data.Synthetic(countries, day0, days, step, 7))
	require.NoError(t, err)
	cfg := config.Default()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return NewRouter(cfg, data.NewAlignedCache(set, 0), Options{})
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE", "AT")
	w := do(t, r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 2.0, body["countries"])
}

func TestSimulate(t *testing.T) {
	r := newRouter(t, 15*time.Minute, 2, "DE", "HU")

	w := do(t, r, http.MethodPost, "/api/v1/simulate",
		`{"country":"de","start":"2024-06-03","days":2,"options":{"include_rows":true,"include_ledger":true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[models.RunResponse](t, w)
	assert.Equal(t, "DE", resp.Country)
	assert.Equal(t, config.MethodHeuristic, resp.Method)
	assert.InDelta(t, 2236.0, resp.PowerKW, 1e-9)
	assert.Equal(t, 192, resp.Summary.Steps)
	assert.Len(t, resp.Rows, 192)
	assert.Equal(t, day0, resp.Summary.Window.Start.UTC())
	assert.Equal(t, day0.Add(48*time.Hour), resp.Summary.Window.End.UTC())
	assert.Len(t, resp.Ledger, resp.Summary.Transactions)
	assert.Nil(t, resp.Solve)
	assert.InDelta(t, resp.Summary.TotalRevenue, resp.Rows[191].CumRevenue, 1e-6)
	assert.Greater(t, resp.Finance.Investment, 0.0)
}

func TestSimulateErrors(t *testing.T) {
	r := newRouter(t, 15*time.Minute, 1, "DE")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed", `{"country":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing country", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad override", `{"country":"DE","time_limit":"soon"}`, http.StatusBadRequest, "INVALID_CONFIG"},
		{"bad quantiles", `{"country":"DE","heuristic":{"low_quantile":0.9}}`, http.StatusBadRequest, "INVALID_CONFIG"},
		{"negative c-rate", `{"country":"DE","c_rate":-1}`, http.StatusBadRequest, "INVALID_CONFIG"},
		{"unknown country", `{"country":"XX"}`, http.StatusNotFound, "NO_PRICE_DATA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/v1/simulate", tt.body)
			assert.Equal(t, tt.status, w.Code)
			resp := decode[models.ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestOptimize(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")

	w := do(t, r, http.MethodPost, "/api/v1/optimize", `{"country":"DE","options":{"include_blocks":true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[models.RunResponse](t, w)
	assert.Equal(t, config.MethodOptimizer, resp.Method)
	require.NotNil(t, resp.Solve)
	assert.Contains(t, []string{"optimal", "feasible"}, resp.Solve.Status)
	require.Len(t, resp.Solve.Blocks, 6)
	assert.Equal(t, day0.Add(4*time.Hour), resp.Solve.Blocks[1].Start.UTC())
	assert.Equal(t, 24, resp.Summary.Steps)
	assert.Empty(t, resp.Rows)
}

func TestOptimizeInfeasible(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")

	w := do(t, r, http.MethodPost, "/api/v1/optimize",
		`{"country":"DE","cycles_per_day":0.05,"optimizer":{"terminal_soc":0.95,"activation_ratio":0}}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	resp := decode[models.ErrorResponse](t, w)
	assert.Equal(t, "INFEASIBLE", resp.Error.Code)
	assert.Equal(t, "infeasible", resp.Error.Details["solver_status"])
}

func TestSweep(t *testing.T) {
	r := newRouter(t, 15*time.Minute, 1, "DE", "HU")

	w := do(t, r, http.MethodPost, "/api/v1/sweep",
		`{"countries":["de","xx"],"c_rates":[0.25,0.5],"cycles":[1],"workers":2,"include_best_rows":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[models.SweepResponse](t, w)
	assert.Equal(t, config.MethodHeuristic, resp.Method)
	assert.Equal(t, 4, resp.Pairs)
	assert.Equal(t, 2, resp.Failed)
	require.Len(t, resp.Summary, 4)
	assert.Empty(t, resp.Summary[0].Error)
	assert.GreaterOrEqual(t, resp.Summary[0].LevelizedROI, resp.Summary[1].LevelizedROI)
	assert.Equal(t, "XX", resp.Summary[3].Country)
	assert.NotEmpty(t, resp.Summary[3].Error)

	require.NotNil(t, resp.Best)
	assert.Equal(t, "DE", resp.Best.Country)
	assert.Equal(t, resp.Summary[0].CRate, resp.Best.CRate)
	assert.Len(t, resp.Best.Rows, 96)
}

func TestSweepRejectsUnknownMethod(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")
	w := do(t, r, http.MethodPost, "/api/v1/sweep", `{"method":"genetic"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CONFIG", decode[models.ErrorResponse](t, w).Error.Code)
}

func TestCountriesAndRank(t *testing.T) {
	r := newRouter(t, time.Hour, 2, "DE", "HU", "CH")

	w := do(t, r, http.MethodGet, "/api/v1/countries", "")
	require.Equal(t, http.StatusOK, w.Code)
	countries := decode[struct {
		Countries []models.CountryInfo `json:"countries"`
	}](t, w).Countries
	require.Len(t, countries, 3)
	assert.Equal(t, "CH", countries[0].Code)
	assert.Len(t, countries[0].Instruments, 6)
	assert.Equal(t, day0, countries[0].Start.UTC())

	w = do(t, r, http.MethodGet, "/api/v1/rank?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rank := decode[models.RankResponse](t, w)
	require.Len(t, rank.Rankings, 2)
	assert.Equal(t, 1, rank.Rankings[0].Rank)
	assert.GreaterOrEqual(t, rank.Rankings[0].ArbitrageBound, rank.Rankings[1].ArbitrageBound)
	assert.Equal(t, 48, rank.Rankings[0].Count)

	w = do(t, r, http.MethodGet, "/api/v1/rank?start=June", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMethods(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")
	w := do(t, r, http.MethodGet, "/api/v1/methods", "")
	require.Equal(t, http.StatusOK, w.Code)
	methods := decode[struct {
		Methods []models.MethodInfo `json:"methods"`
	}](t, w).Methods
	require.Len(t, methods, 2)
	assert.Equal(t, config.MethodHeuristic, methods[0].Name)
	assert.Equal(t, config.MethodOptimizer, methods[1].Name)

	defaults := map[string]interface{}{}
	for _, p := range methods[1].Parameters {
		defaults[p.Name] = p.Default
	}
	assert.Contains(t, []interface{}{config.SolverHiGHS, config.SolverBranchAndBound}, defaults["solver"])
	assert.Equal(t, "tableau", defaults["lp_method"])
	// window_steps 0 is omitted: the whole horizon is one model
	assert.Nil(t, defaults["window_steps"])
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/api/v1/simulate", `{"country":"DE"}`).Code)

	w := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "bess_dispatch_run_total"))
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/simulate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoversFromPanic(t *testing.T) {
	r := newRouter(t, time.Hour, 1, "DE")
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(t, r, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[models.ErrorResponse](t, w)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
}
