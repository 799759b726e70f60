package http

import (
	"context"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/audit"
	"github.com/jmehdipour/stripe-gateway/internal/config"
	"github.com/jmehdipour/stripe-gateway/internal/http/middleware"
	"github.com/jmehdipour/stripe-gateway/internal/metrics"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/jmehdipour/stripe-gateway/internal/service/receiver"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

// NewServer wires the receive path. One webhook route is mounted per signing
// secret name, each behind its own parameterized verification middleware, so
// e.g. platform and Connect endpoints verify against different secrets.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, sink *audit.Writer) *Server {
	// repos (MySQL)
	eventsRepo := repository.NewEventsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	// repos (ClickHouse)
	auditRepo := repository.NewAuditRepository(clickhouseDB)

	// services
	recv := receiver.New(mysqlDB, eventsRepo, outboxRepo, cfg.Webhooks.Router())
	verifier := webhook.NewVerifier(cfg.Webhooks.SigningSecrets, cfg.Webhooks.Tolerance())

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// one endpoint per signing secret, deterministic mount order
	names := make([]string, 0, len(cfg.Webhooks.SigningSecrets))
	for name := range cfg.Webhooks.SigningSecrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.POST("/webhooks/"+name, webhookHandler(recv), middleware.VerifySignature(verifier, name, sink))
	}

	// reports API
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})
	v1 := e.Group("/v1", rlMW)
	v1.GET("/reports/events", listAuditHandler(auditRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
