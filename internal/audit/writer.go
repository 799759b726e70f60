package audit

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/logger"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Writer batches audit records and flushes them to ClickHouse on size or
// time. Recording is non-blocking so the synchronous webhook path never
// waits on the sink; when the buffer is full the record is dropped and
// counted in the log.
type Writer struct {
	repo      repository.AuditRepository
	in        chan model.AuditRecord
	BatchSize int
	BatchWait time.Duration
}

func NewWriter(repo repository.AuditRepository) *Writer {
	return &Writer{
		repo:      repo,
		in:        make(chan model.AuditRecord, 1024),
		BatchSize: 200,
		BatchWait: 300 * time.Millisecond,
	}
}

// newID returns a ULID for an audit row. ULIDs sort by creation time, which
// keeps ClickHouse inserts append-friendly.
func newID() string {
	t := time.Now()
	return ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0)).String()
}

// Record queues one audit record, assigning its id and timestamp.
func (w *Writer) Record(rec model.AuditRecord) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	select {
	case w.in <- rec:
	default:
		logger.Log.Warn("audit buffer full, dropping record",
			zap.String("kind", string(rec.Kind)),
			zap.String("event_id", rec.EventID))
	}
}

// Run flushes batches until ctx is cancelled, then drains what is buffered.
func (w *Writer) Run(ctx context.Context) {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.AuditRecord, 0, w.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// detached context: flush must still work during shutdown drain
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.repo.InsertBatch(fctx, batch); err != nil {
			logger.Log.Error("audit flush failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-w.in:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		case rec := <-w.in:
			batch = append(batch, rec)
			if len(batch) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
