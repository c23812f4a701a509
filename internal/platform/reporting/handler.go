package reporting

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/patientflow/patientflow/internal/platform/auth"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	runner MeasureRunner
	daily  *DailyReport
	loc    *time.Location
	now    func() time.Time
}

func NewHandler(runner MeasureRunner, daily *DailyReport, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{runner: runner, daily: daily, loc: loc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleDispatcher))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
	g.GET("/daily.xlsx", h.DailyWorkbook)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs a measure for ?date= (default today).
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	day, err := ParseDay(c.QueryParam("date"), h.loc, h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := Evaluate(c.Request().Context(), h.runner, measure, day)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "measure evaluation failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) DailyWorkbook(c echo.Context) error {
	day, err := ParseDay(c.QueryParam("date"), h.loc, h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	data, err := h.daily.Generate(c.Request().Context(), day)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "report generation failed").SetInternal(err)
	}
	filename := fmt.Sprintf("patient-flow-%s.xlsx", day.Format(dateLayout))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, xlsxMIME, data)
}
