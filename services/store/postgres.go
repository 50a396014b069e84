// Package store implements the job-queue store contract over two backends:
// a direct Postgres connection and the hosted PostgREST RPC surface.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/presenteio/priceworker/internal/queue"
	"github.com/presenteio/priceworker/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore implements queue.Store against a relational database. The
// claim and finish operations are single atomic statements or transactions
// so concurrent workers never double-claim or double-finish.
type PostgresStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// OpenPostgres opens a gorm connection for the store.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewPostgresStore creates a store over an open gorm connection.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: logger.ForStore(),
	}
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const claimSQL = `
UPDATE price_update_queue q
SET status = 'processing',
    attempts = q.attempts + 1,
    started_at = now()
WHERE q.id IN (
    SELECT id FROM price_update_queue
    WHERE status = 'pending' AND scheduled_for <= now()
    ORDER BY scheduled_for, id
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING q.id AS job_id,
    (SELECT COALESCE(g.buy_url, '') FROM gifts g WHERE g.id = q.gift_id) AS buy_url`

// Claim atomically reserves up to limit eligible jobs. SKIP LOCKED keeps
// concurrent claimers from ever selecting the same row.
func (s *PostgresStore) Claim(ctx context.Context, limit int) ([]queue.ClaimedJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var jobs []queue.ClaimedJob
	if err := s.db.WithContext(ctx).Raw(claimSQL, limit).Scan(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	s.log.Debug().Int("claimed", len(jobs)).Msg("Claimed jobs")
	return jobs, nil
}

// Finish records a job outcome exactly once. The guard on status makes a
// second call for the same job a no-op.
func (s *PostgresStore) Finish(ctx context.Context, jobID int64, priceValue *float64, errMsg *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status := queue.StatusDone
		var detected *float64
		var lastError *string

		if priceValue != nil {
			detected = priceValue
		} else {
			status = queue.StatusFailed
			msg := "ERRO_DESCONHECIDO"
			if errMsg != nil {
				msg = queue.TruncateError(*errMsg)
			}
			lastError = &msg
		}

		var finished []struct {
			GiftID int64 `gorm:"column:gift_id"`
		}
		err := tx.Raw(`
			UPDATE price_update_queue
			SET status = ?, detected_price = ?, last_error = ?, finished_at = now()
			WHERE id = ? AND status = 'processing'
			RETURNING gift_id`,
			status, detected, lastError, jobID,
		).Scan(&finished).Error
		if err != nil {
			return fmt.Errorf("failed to finish job %d: %w", jobID, err)
		}
		if len(finished) == 0 {
			// Already finished (or never claimed); tolerate report retries.
			s.log.Debug().Int64("job_id", jobID).Msg("Finish was a no-op")
			return nil
		}
		giftID := finished[0].GiftID

		if status == queue.StatusDone {
			err = tx.Exec(`
				UPDATE gifts
				SET price_value = ?, price_manual_override = FALSE,
				    price_status = 'ok', price_last_error = NULL,
				    price_checked_at = now()
				WHERE id = ?`,
				*detected, giftID,
			).Error
		} else {
			err = tx.Exec(`
				UPDATE gifts
				SET price_status = 'failed', price_last_error = ?,
				    price_checked_at = now()
				WHERE id = ?`,
				*lastError, giftID,
			).Error
		}
		if err != nil {
			return fmt.Errorf("failed to propagate result to gift %d: %w", giftID, err)
		}
		return nil
	})
}

const enqueueSQL = `
INSERT INTO price_update_queue (gift_id, status, scheduled_for, created_at)
SELECT g.id, 'pending', now(), now()
FROM gifts g
WHERE g.is_active
  AND COALESCE(g.buy_url, '') <> ''
  AND NOT g.price_manual_override
  AND NOT EXISTS (
      SELECT 1 FROM price_update_queue q
      WHERE q.gift_id = g.id AND q.status IN ('pending', 'processing'))
RETURNING gift_id`

// EnqueueAll creates one pending job per eligible gift. Manually priced and
// already-queued items are skipped.
func (s *PostgresStore) EnqueueAll(ctx context.Context) (queue.EnqueueResult, error) {
	var result queue.EnqueueResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := enqueueAllTx(tx)
		if err != nil {
			return err
		}
		result.Enqueued = n
		return nil
	})
	if err != nil {
		return queue.EnqueueResult{}, err
	}

	s.log.Info().Int("enqueued", result.Enqueued).Msg("Bulk enqueue finished")
	return result, nil
}

func enqueueAllTx(tx *gorm.DB) (int, error) {
	var enqueued []struct {
		GiftID int64 `gorm:"column:gift_id"`
	}
	if err := tx.Raw(enqueueSQL).Scan(&enqueued).Error; err != nil {
		return 0, fmt.Errorf("failed to enqueue jobs: %w", err)
	}
	if len(enqueued) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(enqueued))
	for _, row := range enqueued {
		ids = append(ids, row.GiftID)
	}
	if err := tx.Exec(`UPDATE gifts SET price_status = 'pending' WHERE id IN ?`, ids).Error; err != nil {
		return 0, fmt.Errorf("failed to mark gifts pending: %w", err)
	}
	return len(ids), nil
}

// EnqueueDueScheduled runs the bulk enqueue when the schedule is enabled and
// due, advancing the schedule in the same transaction. The settings row is
// locked so concurrent due-checks cannot both fire.
func (s *PostgresStore) EnqueueDueScheduled(ctx context.Context) (queue.ScheduleRun, error) {
	var run queue.ScheduleRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings queue.ScheduleSettings
		err := tx.Raw(`
			SELECT id, is_enabled, frequency_minutes, next_run_at, last_run_at
			FROM price_update_settings WHERE id = 1 FOR UPDATE`,
		).Scan(&settings).Error
		if err != nil {
			return fmt.Errorf("failed to load schedule settings: %w", err)
		}

		if !settings.IsEnabled {
			run = queue.ScheduleRun{Ran: false, Reason: queue.ReasonDisabled}
			return nil
		}

		now := time.Now()
		if settings.NextRunAt != nil && now.Before(*settings.NextRunAt) {
			run = queue.ScheduleRun{Ran: false, Reason: queue.ReasonNotDue}
			return nil
		}

		n, err := enqueueAllTx(tx)
		if err != nil {
			return err
		}

		next := now.Add(time.Duration(settings.FrequencyMinutes) * time.Minute)
		err = tx.Exec(`
			UPDATE price_update_settings
			SET next_run_at = ?, last_run_at = ?
			WHERE id = 1`,
			next, now,
		).Error
		if err != nil {
			return fmt.Errorf("failed to advance schedule: %w", err)
		}

		run = queue.ScheduleRun{Ran: true, Enqueued: n}
		return nil
	})
	if err != nil {
		return queue.ScheduleRun{}, err
	}

	s.log.Info().
		Bool("ran", run.Ran).
		Int("enqueued", run.Enqueued).
		Str("reason", run.Reason).
		Msg("Scheduled enqueue checked")
	return run, nil
}

// SetSchedule updates the singleton schedule row.
func (s *PostgresStore) SetSchedule(ctx context.Context, enabled bool, frequencyMinutes int) error {
	if enabled && frequencyMinutes < 60 {
		return fmt.Errorf("frequency must be at least 60 minutes, got %d", frequencyMinutes)
	}
	if frequencyMinutes < 60 {
		frequencyMinutes = 1440
	}

	var next *time.Time
	if enabled {
		t := time.Now().Add(time.Duration(frequencyMinutes) * time.Minute)
		next = &t
	}

	err := s.db.WithContext(ctx).Exec(`
		UPDATE price_update_settings
		SET is_enabled = ?, frequency_minutes = ?, next_run_at = ?
		WHERE id = 1`,
		enabled, frequencyMinutes, next,
	).Error
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// IsAdmin is trivially true for the direct connection: the database
// credential itself is the authorization boundary.
func (s *PostgresStore) IsAdmin(ctx context.Context) (bool, error) {
	return true, nil
}

// DeleteFinished removes done and failed jobs (operator cleanup).
func (s *PostgresStore) DeleteFinished(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`DELETE FROM price_update_queue WHERE status IN ('done', 'failed')`)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteQueued removes pending and processing jobs (operator cleanup, used
// together with disabling the schedule).
func (s *PostgresStore) DeleteQueued(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`DELETE FROM price_update_queue WHERE status IN ('pending', 'processing')`)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete queued jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteJob removes a single job by id.
func (s *PostgresStore) DeleteJob(ctx context.Context, jobID int64) error {
	if err := s.db.WithContext(ctx).Exec(`DELETE FROM price_update_queue WHERE id = ?`, jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job %d: %w", jobID, err)
	}
	return nil
}

// RequeueStale flips processing jobs older than the cutoff back to pending.
// Reconciliation tooling for workers that died mid-lease.
func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Exec(`
		UPDATE price_update_queue
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at <= ?`,
		cutoff,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
