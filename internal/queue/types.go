// Package queue defines the durable price-refresh job model and the store
// contract shared by the Postgres and PostgREST backends.
package queue

import "time"

// JobStatus is the lifecycle state of a price-refresh job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"    // eligible for claim once scheduled_for is reached
	StatusProcessing JobStatus = "processing" // claimed by a worker, lease held until finish
	StatusDone       JobStatus = "done"       // finished with a detected price
	StatusFailed     JobStatus = "failed"     // finished with an error message
)

// PriceStatus is the catalog item's price field state.
type PriceStatus string

const (
	PriceStatusManual  PriceStatus = "manual"
	PriceStatusOK      PriceStatus = "ok"
	PriceStatusPending PriceStatus = "pending"
	PriceStatusFailed  PriceStatus = "failed"
)

// MaxErrorLength bounds the diagnostic string stored with a failed job.
const MaxErrorLength = 500

// PriceJob is one request to refresh a single gift's price.
type PriceJob struct {
	ID            int64      `gorm:"column:id;primaryKey"`
	GiftID        int64      `gorm:"column:gift_id;index"`
	Status        JobStatus  `gorm:"column:status;index"`
	Attempts      int        `gorm:"column:attempts"`
	ScheduledFor  time.Time  `gorm:"column:scheduled_for"`
	DetectedPrice *float64   `gorm:"column:detected_price"`
	LastError     *string    `gorm:"column:last_error"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
}

// TableName specifies the table name for GORM
func (PriceJob) TableName() string {
	return "price_update_queue"
}

// ScheduleSettings is the singleton bulk-refresh schedule (row id 1).
type ScheduleSettings struct {
	ID               int        `gorm:"column:id;primaryKey"`
	IsEnabled        bool       `gorm:"column:is_enabled"`
	FrequencyMinutes int        `gorm:"column:frequency_minutes"`
	NextRunAt        *time.Time `gorm:"column:next_run_at"`
	LastRunAt        *time.Time `gorm:"column:last_run_at"`
}

// TableName specifies the table name for GORM
func (ScheduleSettings) TableName() string {
	return "price_update_settings"
}

// Gift carries the catalog columns this core reads for enqueue eligibility
// and writes on finish. The catalog collaborator owns the rest of the row.
type Gift struct {
	ID                  int64       `gorm:"column:id;primaryKey"`
	Title               string      `gorm:"column:title"`
	BuyURL              *string     `gorm:"column:buy_url"`
	IsActive            bool        `gorm:"column:is_active"`
	PriceValue          *float64    `gorm:"column:price_value"`
	PriceManualOverride bool        `gorm:"column:price_manual_override"`
	PriceStatus         PriceStatus `gorm:"column:price_status"`
	PriceLastError      *string     `gorm:"column:price_last_error"`
	PriceCheckedAt      *time.Time  `gorm:"column:price_checked_at"`
}

// TableName specifies the table name for GORM
func (Gift) TableName() string {
	return "gifts"
}

// ClaimedJob is the slice of a job a worker needs to process it.
type ClaimedJob struct {
	JobID  int64  `json:"job_id" gorm:"column:job_id"`
	BuyURL string `json:"buy_url" gorm:"column:buy_url"`
}

// EnqueueResult reports how many jobs a bulk enqueue created.
type EnqueueResult struct {
	Enqueued int `json:"enqueued"`
}

// Reasons a scheduled enqueue pass did not run.
const (
	ReasonDisabled = "disabled"
	ReasonNotDue   = "not_due"
)

// ScheduleRun reports the outcome of a scheduled enqueue pass.
type ScheduleRun struct {
	Ran      bool   `json:"ran"`
	Enqueued int    `json:"enqueued"`
	Reason   string `json:"reason,omitempty"`
}
