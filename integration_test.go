package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presenteio/priceworker/internal/discovery"
	"github.com/presenteio/priceworker/internal/queue"
	"github.com/presenteio/priceworker/services/worker"
)

// memStore is an in-memory queue.Store for exercising the full claim,
// discover, finish cycle without a database.
type memStore struct {
	mu   sync.Mutex
	jobs map[int64]*memJob
}

type memJob struct {
	buyURL    string
	status    queue.JobStatus
	price     *float64
	lastError *string
}

func newMemStore() *memStore {
	return &memStore{jobs: map[int64]*memJob{}}
}

func (s *memStore) enqueue(jobID int64, buyURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &memJob{buyURL: buyURL, status: queue.StatusPending}
}

func (s *memStore) Claim(ctx context.Context, limit int) ([]queue.ClaimedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []queue.ClaimedJob
	for id, job := range s.jobs {
		if len(claimed) >= limit {
			break
		}
		if job.status != queue.StatusPending {
			continue
		}
		job.status = queue.StatusProcessing
		claimed = append(claimed, queue.ClaimedJob{JobID: id, BuyURL: job.buyURL})
	}
	return claimed, nil
}

func (s *memStore) Finish(ctx context.Context, jobID int64, priceValue *float64, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.status != queue.StatusProcessing {
		return nil
	}
	if priceValue != nil {
		job.status = queue.StatusDone
		job.price = priceValue
	} else {
		job.status = queue.StatusFailed
		job.lastError = errMsg
	}
	return nil
}

func (s *memStore) EnqueueAll(ctx context.Context) (queue.EnqueueResult, error) {
	return queue.EnqueueResult{}, nil
}

func (s *memStore) EnqueueDueScheduled(ctx context.Context) (queue.ScheduleRun, error) {
	return queue.ScheduleRun{Reason: queue.ReasonDisabled}, nil
}

func (s *memStore) SetSchedule(ctx context.Context, enabled bool, frequencyMinutes int) error {
	return nil
}

func (s *memStore) IsAdmin(ctx context.Context) (bool, error) {
	return true, nil
}

func newTestWorker(store queue.Store) *worker.Worker {
	fetcher := discovery.NewFetcher(nil, 2*time.Second, time.Minute)
	svc := discovery.NewService(fetcher)
	svc.MirrorPrefixes = nil // no reader mirrors in tests
	return worker.New(store, svc, nil, 2)
}

func TestEndToEndPriceFound(t *testing.T) {
	page := `<html><body>
		<h1>Cafeteira Espresso</h1>
		<p>De <del>R$ 199,90</del> por R$ 129,90 no pix</p>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer server.Close()

	store := newMemStore()
	store.enqueue(1, server.URL+"/produto/cafeteira")

	w := newTestWorker(store)
	total, err := w.Drain(context.Background(), 20, 5)
	require.NoError(t, err)
	assert.Equal(t, worker.BatchResult{Processed: 1, Success: 1}, total)

	job := store.jobs[1]
	assert.Equal(t, queue.StatusDone, job.status)
	require.NotNil(t, job.price)
	assert.Equal(t, 129.90, *job.price)
	assert.Nil(t, job.lastError)
}

func TestEndToEndNoPriceOnPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><h1>Produto esgotado</h1></body></html>`))
	}))
	defer server.Close()

	store := newMemStore()
	store.enqueue(1, server.URL+"/produto/indisponivel")

	w := newTestWorker(store)
	total, err := w.Drain(context.Background(), 20, 5)
	require.NoError(t, err)
	assert.Equal(t, worker.BatchResult{Processed: 1, Failed: 1}, total)

	job := store.jobs[1]
	assert.Equal(t, queue.StatusFailed, job.status)
	require.NotNil(t, job.lastError)
	assert.Equal(t, worker.ErrCodePriceNotFound, *job.lastError)
}

func TestEndToEndUnreachablePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemStore()
	store.enqueue(1, server.URL+"/produto/quebrado")

	w := newTestWorker(store)
	total, err := w.Drain(context.Background(), 20, 5)
	require.NoError(t, err)
	assert.Equal(t, worker.BatchResult{Processed: 1, Failed: 1}, total)

	job := store.jobs[1]
	assert.Equal(t, queue.StatusFailed, job.status)
	require.NotNil(t, job.lastError)
	assert.NotEmpty(t, *job.lastError)
}
