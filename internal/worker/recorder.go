// Package worker hosts background consumers. Recorder drains the usage
// topic into the ClickHouse ledger when the gateway publishes records
// through Kafka instead of writing them directly.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/kafka"
	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/repository"
)

// Recorder:
// - fetches usage record envelopes from Kafka,
// - batches them by size/time,
// - appends batches to the ClickHouse ledger.
// Quota accumulation already happened gateway-side before publishing, so
// this worker only persists.
type Recorder struct {
	Consumer *kafka.Consumer
	Usage    repository.UsageRepository
	Log      *zap.Logger

	Workers   int           // decode goroutines
	BatchSize int           // max buffered records per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewRecorder(consumer *kafka.Consumer, usageRepo repository.UsageRepository, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		Consumer:  consumer,
		Usage:     usageRepo,
		Log:       log,
		Workers:   8,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Recorder) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Usage == nil {
		return errors.New("recorder: consumer and usage repository are required")
	}
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	records := make(chan model.UsageRecord, w.BatchSize*2)

	go w.runBatchWriter(ctx, records)

	msgCh := make(chan kafka.Message, w.Workers*2)

	// fetcher
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Warn("kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < w.Workers; i++ {
		go w.runDecoder(ctx, msgCh, records)
	}

	<-ctx.Done()
	return nil
}

// runDecoder parses envelopes, forwards records, commits Kafka offsets.
func (w *Recorder) runDecoder(ctx context.Context, in <-chan kafka.Message, out chan<- model.UsageRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var rec model.UsageRecord
			if err := json.Unmarshal(m.Value, &rec); err != nil || rec.ID == "" {
				// poison message: commit and skip
				_ = w.Consumer.Commit(ctx, m)
				w.Log.Warn("bad usage envelope", zap.Error(err))
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}

			// at-least-once; ClickHouse dedup handles replays by id
			if err := w.Consumer.Commit(ctx, m); err != nil {
				w.Log.Warn("kafka commit failed", zap.Error(err))
			}
		}
	}
}

// runBatchWriter does size/time-based flushes into the ledger.
func (w *Recorder) runBatchWriter(ctx context.Context, in <-chan model.UsageRecord) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.UsageRecord, 0, w.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := w.Usage.InsertBatch(fctx, batch)
		cancel()
		if err != nil {
			metrics.UsageRecordsTotal.WithLabelValues("failed").Add(float64(len(batch)))
			w.Log.Error("ledger insert failed", zap.Int("records", len(batch)), zap.Error(err))
		} else {
			metrics.UsageRecordsTotal.WithLabelValues("flushed").Add(float64(len(batch)))
			w.Log.Info("flushed usage batch", zap.Int("records", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
