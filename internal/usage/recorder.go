// Package usage asynchronously persists resource-consumption records.
// Recording never blocks the response path: records go through a bounded
// queue and a background flusher that batches writes to the sink.
package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/model"
)

// Sink receives flushed record batches (Kafka topic, ClickHouse table, ...).
type Sink interface {
	Write(ctx context.Context, recs []model.UsageRecord) error
}

// Accumulator folds recorded quantities into per-period quota totals so
// post-hoc categories gate future requests.
type Accumulator interface {
	Add(ctx context.Context, tenantID string, cat model.ResourceCategory, qty int64) error
}

type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
}

// Recorder is the bounded queue plus background flusher. A full queue drops
// the record (counted and logged) rather than blocking the caller; a sink
// failure is logged and the batch discarded, never retried inline.
type Recorder struct {
	sink Sink
	acc  Accumulator // optional
	opts Options
	log  *zap.Logger

	queue  chan model.UsageRecord
	closed chan struct{} // signals Enqueue to stop accepting
	done   chan struct{} // flusher drained and exited
}

func NewRecorder(sink Sink, acc Accumulator, opts Options, log *zap.Logger) *Recorder {
	opts.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		sink:   sink,
		acc:    acc,
		opts:   opts,
		log:    log,
		queue:  make(chan model.UsageRecord, opts.QueueSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Enqueue queues one record without blocking. Returns false when the record
// was dropped (queue full or recorder closed).
func (r *Recorder) Enqueue(rec model.UsageRecord) bool {
	select {
	case <-r.closed:
		metrics.UsageRecordsTotal.WithLabelValues("dropped").Inc()
		return false
	default:
	}

	select {
	case r.queue <- rec:
		metrics.UsageRecordsTotal.WithLabelValues("queued").Inc()
		return true
	default:
		metrics.UsageRecordsTotal.WithLabelValues("dropped").Inc()
		r.log.Warn("usage queue full, dropping record",
			zap.String("tenant", rec.TenantID), zap.String("category", rec.Category.String()))
		return false
	}
}

// Close stops accepting records and drains the queue, bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	close(r.closed)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	tick := time.NewTicker(r.opts.FlushInterval)
	defer tick.Stop()

	batch := make([]model.UsageRecord, 0, r.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= r.opts.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		case <-r.closed:
			// drain whatever is already queued, then stop
			for {
				select {
				case rec := <-r.queue:
					batch = append(batch, rec)
					if len(batch) >= r.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []model.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.sink.Write(ctx, batch); err != nil {
		metrics.UsageRecordsTotal.WithLabelValues("failed").Add(float64(len(batch)))
		r.log.Error("usage flush failed", zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	metrics.UsageRecordsTotal.WithLabelValues("flushed").Add(float64(len(batch)))

	if r.acc == nil {
		return
	}
	for _, rec := range batch {
		if err := r.acc.Add(ctx, rec.TenantID, rec.Category, rec.Quantity); err != nil {
			r.log.Warn("quota accumulate failed",
				zap.String("tenant", rec.TenantID),
				zap.String("category", rec.Category.String()), zap.Error(err))
		}
	}
}
