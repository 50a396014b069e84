package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/presenteio/priceworker/internal/queue"
	"github.com/presenteio/priceworker/logger"
)

// RESTStore implements queue.Store against the hosted PostgREST RPC surface.
// Every operation maps to one stored function, so the atomicity guarantees
// live server-side and this client stays stateless.
type RESTStore struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	log        *logger.Logger
}

// NewRESTStore creates a store that calls RPC functions under
// baseURL/rest/v1/rpc using the service key for both the apikey and bearer
// headers.
func NewRESTStore(baseURL, serviceKey string, timeout time.Duration) *RESTStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: timeout},
		log:        logger.ForStore(),
	}
}

// rpcError carries the structured error body PostgREST returns alongside
// non-2xx statuses.
type rpcError struct {
	Message string `json:"message"`
	Err     string `json:"error"`
	Hint    string `json:"hint"`
}

func (e rpcError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != "":
		return e.Err
	case e.Hint != "":
		return e.Hint
	}
	return ""
}

func (s *RESTStore) rpc(ctx context.Context, fn string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", fn, err)
	}

	url := s.baseURL + "/rest/v1/rpc/" + fn
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", fn, err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s failed: %w", fn, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", fn, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var remote rpcError
		if json.Unmarshal(payload, &remote) == nil && remote.text() != "" {
			return fmt.Errorf("rpc %s: %s", fn, remote.text())
		}
		return fmt.Errorf("rpc %s: unexpected status %d", fn, resp.StatusCode)
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", fn, err)
	}
	return nil
}

// Claim calls claim_price_update_jobs, which reserves jobs atomically
// server-side.
func (s *RESTStore) Claim(ctx context.Context, limit int) ([]queue.ClaimedJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var jobs []queue.ClaimedJob
	err := s.rpc(ctx, "claim_price_update_jobs", map[string]any{"p_limit": limit}, &jobs)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("claimed", len(jobs)).Msg("Claimed jobs")
	return jobs, nil
}

// Finish calls finish_price_update_job. A nil price reports a failure; the
// error message is truncated client-side to match the column limit.
func (s *RESTStore) Finish(ctx context.Context, jobID int64, priceValue *float64, errMsg *string) error {
	params := map[string]any{
		"p_job_id":        jobID,
		"p_price_value":   priceValue,
		"p_error_message": nil,
	}
	if errMsg != nil {
		params["p_error_message"] = queue.TruncateError(*errMsg)
	}
	return s.rpc(ctx, "finish_price_update_job", params, nil)
}

// EnqueueAll calls enqueue_price_refresh_all.
func (s *RESTStore) EnqueueAll(ctx context.Context) (queue.EnqueueResult, error) {
	var result queue.EnqueueResult
	if err := s.rpc(ctx, "enqueue_price_refresh_all", map[string]any{}, &result); err != nil {
		return queue.EnqueueResult{}, err
	}

	s.log.Info().Int("enqueued", result.Enqueued).Msg("Bulk enqueue finished")
	return result, nil
}

// EnqueueDueScheduled calls enqueue_due_scheduled_price_updates.
func (s *RESTStore) EnqueueDueScheduled(ctx context.Context) (queue.ScheduleRun, error) {
	var run queue.ScheduleRun
	if err := s.rpc(ctx, "enqueue_due_scheduled_price_updates", map[string]any{}, &run); err != nil {
		return queue.ScheduleRun{}, err
	}

	s.log.Info().
		Bool("ran", run.Ran).
		Int("enqueued", run.Enqueued).
		Str("reason", run.Reason).
		Msg("Scheduled enqueue checked")
	return run, nil
}

// SetSchedule calls set_price_update_schedule. The frequency floor is also
// enforced server-side; checking here just fails faster.
func (s *RESTStore) SetSchedule(ctx context.Context, enabled bool, frequencyMinutes int) error {
	if enabled && frequencyMinutes < 60 {
		return fmt.Errorf("frequency must be at least 60 minutes, got %d", frequencyMinutes)
	}
	params := map[string]any{
		"p_enabled":           enabled,
		"p_frequency_minutes": frequencyMinutes,
	}
	return s.rpc(ctx, "set_price_update_schedule", params, nil)
}

// IsAdmin calls is_admin, which validates the caller's key server-side. Used
// at startup to reject keys that decode locally but carry no privileges.
func (s *RESTStore) IsAdmin(ctx context.Context) (bool, error) {
	var admin bool
	if err := s.rpc(ctx, "is_admin", map[string]any{}, &admin); err != nil {
		return false, err
	}
	return admin, nil
}
