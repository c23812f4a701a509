package attendance

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/patientflow/patientflow/internal/domain/patient"
	"github.com/patientflow/patientflow/internal/domain/staff"
	"github.com/patientflow/patientflow/internal/platform/auth"
)

const conflictMessage = "ticket was already handled by another station, refresh and retry"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the station endpoints on api and the read-only
// panel feeds on displays.
func (h *Handler) RegisterRoutes(api *echo.Group, displays *echo.Group) {
	reception := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	reception.POST("/registrations", h.RegisterAndIssue)
	reception.POST("/tickets", h.CreateTicket)

	stations := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDispatcher, auth.RolePhysician))
	stations.GET("/tickets/:id", h.GetTicket)
	stations.GET("/tickets/:id/history", h.TicketHistory)
	stations.POST("/tickets/:id/recall", h.Recall)
	stations.POST("/tickets/:id/cancel", h.Cancel)

	triage := api.Group("", auth.RequireRole(auth.RoleNurse))
	triage.GET("/queues/arrivals", h.ArrivalQueue)
	triage.GET("/queues/triage-active", h.TriageActiveQueue)
	triage.POST("/tickets/:id/call-triage", h.CallToTriage)
	triage.POST("/tickets/:id/begin-triage", h.BeginTriage)
	triage.POST("/tickets/:id/complete-triage", h.CompleteTriage)

	routing := api.Group("", auth.RequireRole(auth.RoleDispatcher))
	routing.GET("/queues/routing", h.RoutingQueue)
	routing.POST("/tickets/:id/route", h.RouteToClinician)

	clinician := api.Group("", auth.RequireRole(auth.RolePhysician))
	clinician.GET("/queues/clinician", h.MyQueue)
	clinician.GET("/queues/clinician/current", h.MyCurrent)
	clinician.POST("/tickets/:id/call-clinician", h.CallToClinician)
	clinician.POST("/tickets/:id/begin-consultation", h.BeginConsultation)
	clinician.POST("/tickets/:id/finalize", h.Finalize)

	api.GET("/queues/clinician/:id", h.ClinicianQueue, auth.RequireRole(auth.RoleDispatcher, auth.RolePhysician))

	displays.GET("/reception", h.ReceptionDisplay)
	displays.GET("/clinician", h.ClinicianDisplay)
	displays.GET("/calls", h.RecentCalls)
}

// -- Registration --

type registrationResponse struct {
	Ticket         *Ticket `json:"ticket"`
	PatientCreated bool    `json:"patient_created"`
}

func (h *Handler) RegisterAndIssue(c echo.Context) error {
	var in patient.RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, created, err := h.svc.RegisterAndIssue(ctx, in, auth.OperatorIDFromContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, registrationResponse{Ticket: t, PatientCreated: created})
}

type createTicketRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) CreateTicket(c echo.Context) error {
	var req createTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	ctx := c.Request().Context()
	t, err := h.svc.CreateTicket(ctx, req.PatientID, auth.OperatorIDFromContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// -- Transitions --

type transitionFunc func(h *Handler, c echo.Context, id, operatorID uuid.UUID) (*Ticket, error)

func (h *Handler) run(c echo.Context, fn transitionFunc) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := fn(h, c, id, auth.OperatorIDFromContext(c.Request().Context()))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CallToTriage(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		return h.svc.CallToTriage(c.Request().Context(), id, op)
	})
}

func (h *Handler) BeginTriage(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		return h.svc.BeginTriage(c.Request().Context(), id, op)
	})
}

func (h *Handler) CompleteTriage(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		var in TriageInput
		if err := c.Bind(&in); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return h.svc.CompleteTriage(c.Request().Context(), id, op, in)
	})
}

type routeRequest struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	Location    string    `json:"location"`
}

func (h *Handler) RouteToClinician(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		var req routeRequest
		if err := c.Bind(&req); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return h.svc.RouteToClinician(c.Request().Context(), id, op, req.ClinicianID, req.Location)
	})
}

func (h *Handler) CallToClinician(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		return h.svc.CallToClinician(c.Request().Context(), id, op)
	})
}

func (h *Handler) BeginConsultation(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		return h.svc.BeginConsultation(c.Request().Context(), id, op)
	})
}

func (h *Handler) Finalize(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		return h.svc.Finalize(c.Request().Context(), id, op)
	})
}

func (h *Handler) Recall(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		return h.svc.Recall(c.Request().Context(), id, op)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, id, op uuid.UUID) (*Ticket, error) {
		var req cancelRequest
		if err := c.Bind(&req); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return h.svc.Cancel(c.Request().Context(), id, op, req.Reason)
	})
}

// -- Reads --

func (h *Handler) GetTicket(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTicket(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) TicketHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.TicketHistory(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) ArrivalQueue(c echo.Context) error {
	return queueResponse(c)(h.svc.ArrivalQueue(c.Request().Context()))
}

func (h *Handler) TriageActiveQueue(c echo.Context) error {
	return queueResponse(c)(h.svc.TriageActiveQueue(c.Request().Context()))
}

func (h *Handler) RoutingQueue(c echo.Context) error {
	return queueResponse(c)(h.svc.RoutingQueue(c.Request().Context()))
}

// MyQueue is the calling physician's own queue.
func (h *Handler) MyQueue(c echo.Context) error {
	ctx := c.Request().Context()
	op := auth.OperatorIDFromContext(ctx)
	if op == uuid.Nil {
		return mapError(ErrOperatorRequired)
	}
	return queueResponse(c)(h.svc.ClinicianQueue(ctx, op))
}

func (h *Handler) ClinicianQueue(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return queueResponse(c)(h.svc.ClinicianQueue(c.Request().Context(), id))
}

func (h *Handler) MyCurrent(c echo.Context) error {
	ctx := c.Request().Context()
	op := auth.OperatorIDFromContext(ctx)
	if op == uuid.Nil {
		return mapError(ErrOperatorRequired)
	}
	t, err := h.svc.ClinicianCurrent(ctx, op)
	if err != nil {
		return mapError(err)
	}
	if t == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ReceptionDisplay(c echo.Context) error {
	board, err := h.svc.ReceptionDisplay(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) ClinicianDisplay(c echo.Context) error {
	board, err := h.svc.ClinicianDisplay(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) RecentCalls(c echo.Context) error {
	board, err := h.svc.RecentCalls(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, board)
}

func queueResponse(c echo.Context) func([]*Ticket, error) error {
	return func(items []*Ticket, err error) error {
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, nonNil(items))
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// mapError translates service errors into HTTP errors.
func mapError(err error) error {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, ErrOperatorRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, conflictMessage)
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, patient.ErrPatientNotFound),
		errors.Is(err, staff.ErrOperatorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, staff.ErrNotAClinician), errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrInvalidVitals), errors.Is(err, ErrLocationRequired),
		errors.Is(err, ErrClinicianRequired), patient.IsValidationError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
