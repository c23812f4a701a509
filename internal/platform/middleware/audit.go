package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patientflow/patientflow/internal/platform/auth"
	"github.com/patientflow/patientflow/internal/platform/db"
)

// AuditEntry describes one operator action against the API.
type AuditEntry struct {
	OperatorID uuid.UUID
	Roles      []string
	UnitID     string
	Resource   string
	ResourceID string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit logs every state-changing /api/v1 request with the acting operator.
// Reads are not audited; the ticket history table already records the
// workflow itself.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			evt := logger.Info()
			if entry.StatusCode >= 400 || err != nil {
				evt = logger.Warn()
			}
			evt.
				Str("type", "operator_audit").
				Str("request_id", entry.RequestID).
				Str("operator_id", entry.OperatorID.String()).
				Strs("roles", entry.Roles).
				Str("unit_id", entry.UnitID).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("operator_action")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	resource, id, action := splitAPIPath(req.URL.Path)
	if action == "" {
		action = httpMethodToAction(req.Method)
	}
	rid, _ := c.Get("request_id").(string)
	return AuditEntry{
		OperatorID: auth.OperatorIDFromContext(ctx),
		Roles:      auth.RolesFromContext(ctx),
		UnitID:     db.UnitFromContext(ctx),
		Resource:   resource,
		ResourceID: id,
		Action:     action,
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		RequestID:  rid,
		StatusCode: c.Response().Status,
		Timestamp:  time.Now().UTC(),
	}
}

func isAuditable(method, path string) bool {
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitAPIPath breaks /api/v1/<resource>/<id>/<action> into its parts.
//
//	/api/v1/tickets                  -> tickets, "", ""
//	/api/v1/tickets/<id>/call-triage -> tickets, <id>, call-triage
func splitAPIPath(path string) (resource, id, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	switch len(segments) {
	case 0:
		return "unknown", "", ""
	case 1:
		return segments[0], "", ""
	case 2:
		return segments[0], segments[1], ""
	default:
		return segments[0], segments[1], segments[2]
	}
}
