package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/jmehdipour/stripe-gateway/internal/audit"
	"github.com/jmehdipour/stripe-gateway/internal/metrics"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	echo "github.com/labstack/echo/v4"
)

// VerifySignature authenticates inbound webhook requests against the named
// signing secret before any payload parsing happens. Each webhook route is
// mounted with its own secret name, so one endpoint per secret.
//
// On failure it emits an audit record carrying the reason, the offending
// header value and the secret name — never the secret value — and responds
// 400. The body is restored for the downstream handler.
func VerifySignature(v *webhook.Verifier, secretName string, sink *audit.Writer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			header := c.Request().Header.Get(webhook.SignatureHeader)
			if err := v.Verify(body, header, secretName); err != nil {
				metrics.SignatureFailuresTotal.WithLabelValues(secretName).Inc()
				if sink != nil {
					sink.Record(model.AuditRecord{
						Kind:   model.AuditSignatureRejected,
						Detail: fmt.Sprintf("secret=%s reason=%s header=%q", secretName, err, header),
					})
				}
				c.Logger().Warnf("webhook signature verification failed (secret=%s): %v", secretName, err)

				return c.JSON(http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
			}

			return next(c)
		}
	}
}
