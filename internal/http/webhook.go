package http

import (
	"io"
	"net/http"

	"github.com/jmehdipour/stripe-gateway/internal/metrics"
	"github.com/jmehdipour/stripe-gateway/internal/service/receiver"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// webhookHandler is the synchronous receive path. The signature middleware
// has already authenticated the request; here we validate the envelope shape,
// absorb redeliveries, persist + enqueue, and acknowledge with 204 before any
// business logic runs.
func webhookHandler(recv *receiver.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload."})
		}

		ev, err := webhook.Parse(raw)
		if err != nil {
			metrics.EventsTotal.WithLabelValues("invalid", "").Inc()
			log.Warnf("invalid webhook payload: %v", err)

			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload."})
		}

		scope := scopeLabel(ev)

		duplicate, err := recv.Receive(c.Request().Context(), ev, raw)
		if err != nil {
			log.Errorf("receive webhook %s failed: %v", ev.ID, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage error"})
		}

		if duplicate {
			metrics.EventsTotal.WithLabelValues("duplicate", scope).Inc()
			log.Infof("ignoring webhook %s (%s): already processed", ev.ID, ev.Type)
		} else {
			metrics.EventsTotal.WithLabelValues("accepted", scope).Inc()
			log.Infof("received webhook %s (%s)", ev.ID, ev.Type)
		}

		return c.NoContent(http.StatusNoContent)
	}
}

func scopeLabel(ev webhook.Event) string {
	if ev.Connect() {
		return "connect"
	}
	return "account"
}
