package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(runner *fakeRunner) *Handler {
	tickets, patients, created := fixture()
	daily := NewDailyReport(tickets, patients, time.UTC)
	daily.now = func() time.Time { return created.Add(time.Hour) }
	h := NewHandler(runner, daily, time.UTC)
	h.now = func() time.Time { return created }
	return h
}

func TestHandler_ListMeasures(t *testing.T) {
	h := newTestHandler(&fakeRunner{})
	e := echo.New()
	rec := httptest.NewRecorder()
	require.NoError(t, h.ListMeasures(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)))

	var got []MeasureDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, len(PredefinedMeasures))
}

func TestHandler_EvaluateMeasure(t *testing.T) {
	runner := &fakeRunner{rows: []map[string]interface{}{{"priority": 2, "total": 4}}}
	h := newTestHandler(runner)
	e := echo.New()

	tests := []struct {
		name  string
		id    string
		query string
		code  int
	}{
		{"default date", "tickets-by-priority", "", http.StatusOK},
		{"explicit date", "tickets-by-priority", "?date=2026-03-01", http.StatusOK},
		{"bad date", "tickets-by-priority", "?date=yesterday", http.StatusBadRequest},
		{"unknown measure", "nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			err := h.EvaluateMeasure(c)
			if tt.code != http.StatusOK {
				var httpErr *echo.HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, tt.code, httpErr.Code)
				return
			}
			require.NoError(t, err)
			var report MeasureReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.id, report.MeasureID)
		})
	}
	assert.Equal(t, []interface{}{"2026-03-01"}, runner.args)
}

func TestHandler_DailyWorkbook(t *testing.T) {
	h := newTestHandler(&fakeRunner{})
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2026-03-10", nil), rec)

	require.NoError(t, h.DailyWorkbook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxMIME, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "patient-flow-2026-03-10.xlsx")
	// XLSX files are zip archives.
	assert.Equal(t, "PK", rec.Body.String()[:2])
}
