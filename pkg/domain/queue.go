package domain

import "time"

// QueueItemStatus is the lifecycle of one rarity classification job.
// Transient failures keep an item pending; only terminal classification
// errors move it to failed.
type QueueItemStatus string

const (
	QueueStatusPending   QueueItemStatus = "pending"
	QueueStatusCompleted QueueItemStatus = "completed"
	QueueStatusFailed    QueueItemStatus = "failed"
)

// QueueItem is one (user, taxon) pair awaiting rarity classification.
type QueueItem struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	TaxonID       int64           `json:"taxonId"`
	TaxonName     string          `json:"taxonName,omitempty"`
	Priority      int             `json:"priority"`
	Status        QueueItemStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
}

// QueueStatusSummary aggregates a user's queue by status.
type QueueStatusSummary struct {
	UserID          string `json:"userId"`
	Pending         int64  `json:"pending"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
	Total           int64  `json:"total"`
	PercentComplete int    `json:"percentComplete"`
}

// ProcessResult summarizes one queue-draining call.
type ProcessResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ReconciliationJob is a deferred correction queued when local state is
// discovered to be ahead of the remote source.
type ReconciliationJob struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

const (
	ReconciliationPending   = "pending"
	ReconciliationCompleted = "completed"
)
