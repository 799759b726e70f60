package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/audit"
	"github.com/jmehdipour/stripe-gateway/internal/config"
	"github.com/jmehdipour/stripe-gateway/internal/db"
	"github.com/jmehdipour/stripe-gateway/internal/kafka"
	"github.com/jmehdipour/stripe-gateway/internal/listener"
	"github.com/jmehdipour/stripe-gateway/internal/logger"
	"github.com/jmehdipour/stripe-gateway/internal/metrics"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmehdipour/stripe-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	flagConnection string
	flagQueue      string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the webhook dispatch worker for one queue",
	Long: "Consumes dispatch tasks from the given queue and fans each event out " +
		"to its channel subscribers. Run one process per (connection, queue) pair " +
		"to separate priorities.",
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&flagConnection, "connection", "", "named Kafka connection (default: webhooks.default_connection)")
	dispatchCmd.Flags().StringVar(&flagQueue, "queue", "", "queue/topic to consume (default: webhooks.default_queue)")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	connection := flagConnection
	if connection == "" {
		connection = cfg.Webhooks.DefaultConnection
	}
	queue := flagQueue
	if queue == "" {
		queue = cfg.Webhooks.DefaultQueue
	}
	brokers := cfg.Kafka.Brokers(connection, cfg.Webhooks.DefaultConnection)
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured for connection %q", connection)
	}

	// 2) DB connections
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer func() { _ = chDB.Close() }()

	// 3) repositories
	eventsRepo := repository.NewEventsRepository(dbx)
	accountsRepo := repository.NewAccountsRepository(dbx)
	auditRepo := repository.NewAuditRepository(chDB)

	// 4) subscriber registry (built-in listeners; applications add their own here)
	registry := webhook.NewRegistry()
	listener.Register(registry, accountsRepo)

	// 5) kafka consumer for this queue
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "stripegw-dispatcher"
	}
	groupID = groupID + "-" + queue

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        brokers,
		Topic:          queue,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	// 6) audit sink
	sink := audit.NewWriter(auditRepo)
	if cfg.Worker.BatchSize > 0 {
		sink.BatchSize = cfg.Worker.BatchSize
	}
	if cfg.Worker.BatchWait > 0 {
		sink.BatchWait = cfg.Worker.BatchWait
	}

	d := worker.NewDispatcher(
		dbx,
		consumer,
		eventsRepo,
		accountsRepo,
		registry,
		cfg.Webhooks.Router(),
		sink,
	)
	if cfg.Worker.Count > 0 {
		d.Workers = cfg.Worker.Count
	}

	// 7) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the sink outlives ctx so records buffered at shutdown still flush
	sinkCtx, stopSink := context.WithCancel(context.Background())
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		sink.Run(sinkCtx)
	}()

	log.Printf(">> dispatcher started connection=%s queue=%s group=%s workers=%d",
		connection, queue, groupID, d.Workers)

	err = d.Run(ctx)

	stopSink()
	<-sinkDone

	return err
}
