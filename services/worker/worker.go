// Package worker runs the claim/discover/finish loop that drains the
// price-refresh queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/presenteio/priceworker/internal/queue"
	"github.com/presenteio/priceworker/logger"
	"github.com/presenteio/priceworker/services/publisher"
)

// Stable error codes stored with failed jobs. The catalog frontend keys its
// messages off these.
const (
	ErrCodePriceNotFound = "PRECO_NAO_ENCONTRADO"
	ErrCodeUnknown       = "ERRO_DESCONHECIDO"
)

// Discoverer finds a price for a product URL.
type Discoverer interface {
	DiscoverPrice(ctx context.Context, buyURL string) (float64, bool)
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	Processed int
	Success   int
	Failed    int
}

func (r *BatchResult) add(other BatchResult) {
	r.Processed += other.Processed
	r.Success += other.Success
	r.Failed += other.Failed
}

// ResultEvent is the message published per finished job.
type ResultEvent struct {
	JobID      int64    `json:"job_id"`
	BuyURL     string   `json:"buy_url"`
	Status     string   `json:"status"`
	PriceValue *float64 `json:"price_value,omitempty"`
	Error      *string  `json:"error,omitempty"`
	FinishedAt string   `json:"finished_at"`
}

// Worker claims batches of jobs, runs price discovery concurrently and
// reports each outcome back to the store exactly once.
type Worker struct {
	store       queue.Store
	discoverer  Discoverer
	pub         publisher.Publisher
	concurrency int
	log         *logger.Logger
}

// New creates a worker. The publisher may be nil when no result stream is
// configured.
func New(store queue.Store, discoverer Discoverer, pub publisher.Publisher, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		store:       store,
		discoverer:  discoverer,
		pub:         pub,
		concurrency: concurrency,
		log:         logger.ForWorker(),
	}
}

type outcome struct {
	price  *float64
	errMsg *string
}

// RunBatch claims up to limit jobs and processes them. Discovery runs
// concurrently; finishing is sequential so a store error aborts the batch
// with the remaining jobs still leased (they come back via stale requeue).
func (w *Worker) RunBatch(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	jobs, err := w.store.Claim(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("failed to claim batch: %w", err)
	}
	if len(jobs) == 0 {
		return result, nil
	}

	outcomes := make([]outcome, len(jobs))
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, job queue.ClaimedJob) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = w.safeDiscover(ctx, job)
		}(i, job)
	}
	wg.Wait()

	for i, job := range jobs {
		o := outcomes[i]
		if err := w.store.Finish(ctx, job.JobID, o.price, o.errMsg); err != nil {
			return result, fmt.Errorf("failed to finish job %d: %w", job.JobID, err)
		}

		result.Processed++
		if o.price != nil {
			result.Success++
			w.log.Info().
				Int64("job_id", job.JobID).
				Float64("price", *o.price).
				Str("url", job.BuyURL).
				Msg("Job finished with price")
		} else {
			result.Failed++
			w.log.Warn().
				Int64("job_id", job.JobID).
				Str("url", job.BuyURL).
				Str("error", *o.errMsg).
				Msg("Job finished without price")
		}

		w.publish(job, o)
	}

	return result, nil
}

// safeDiscover isolates one job's discovery so a panic in a parser or a
// third-party dependency fails only that job.
func (w *Worker) safeDiscover(ctx context.Context, job queue.ClaimedJob) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			msg := queue.TruncateError(fmt.Sprintf("panic: %v", r))
			o = outcome{errMsg: &msg}
			w.log.Error().
				Int64("job_id", job.JobID).
				Str("url", job.BuyURL).
				Interface("panic", r).
				Msg("Recovered from panic during discovery")
		}
	}()

	price, ok := w.discoverer.DiscoverPrice(ctx, job.BuyURL)
	if !ok {
		msg := ErrCodePriceNotFound
		return outcome{errMsg: &msg}
	}
	return outcome{price: &price}
}

func (w *Worker) publish(job queue.ClaimedJob, o outcome) {
	if w.pub == nil {
		return
	}

	event := ResultEvent{
		JobID:      job.JobID,
		BuyURL:     job.BuyURL,
		Status:     string(queue.StatusDone),
		PriceValue: o.price,
		Error:      o.errMsg,
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if o.price == nil {
		event.Status = string(queue.StatusFailed)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		w.log.Error().Err(err).Int64("job_id", job.JobID).Msg("Failed to encode result event")
		return
	}
	if err := w.pub.Publish(payload); err != nil {
		// Publishing is best effort; the store already has the outcome.
		w.log.Error().Err(err).Int64("job_id", job.JobID).Msg("Failed to publish result event")
	}
}

// Drain processes batches until the queue is empty or maxBatches is reached.
func (w *Worker) Drain(ctx context.Context, batchSize, maxBatches int) (BatchResult, error) {
	runLog := w.log.WithField("run_id", uuid.NewString())
	var total BatchResult

	for batch := 0; batch < maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := w.RunBatch(ctx, batchSize)
		if err != nil {
			return total, err
		}
		total.add(result)

		if result.Processed == 0 {
			break
		}
		runLog.Debug().
			Int("batch", batch+1).
			Int("processed", result.Processed).
			Msg("Batch processed")
	}

	runLog.Info().
		Int("processed", total.Processed).
		Int("success", total.Success).
		Int("failed", total.Failed).
		Msg("Queue drain finished")
	return total, nil
}
