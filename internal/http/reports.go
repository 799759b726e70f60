package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listAuditHandler(auditRepo repository.AuditRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var kind model.AuditKind
		switch model.AuditKind(strings.TrimSpace(c.QueryParam("kind"))) {
		case model.AuditSignatureRejected:
			kind = model.AuditSignatureRejected
		case model.AuditDelivered:
			kind = model.AuditDelivered
		case model.AuditDispatchFailed:
			kind = model.AuditDispatchFailed
		}

		eventID := strings.TrimSpace(c.QueryParam("event_id"))

		rows, err := auditRepo.List(c.Request().Context(), kind, eventID, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse audit list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
