package models

import "time"

// SyncOutcome tells the caller what happened to the durable copy of a write.
type SyncOutcome string

const (
	SyncQueued  SyncOutcome = "queued"
	SyncApplied SyncOutcome = "applied"
	SyncFailed  SyncOutcome = "failed"
	SyncSkipped SyncOutcome = "skipped"
)

// SyncFailure records a ledger batch that never reached the database.
type SyncFailure struct {
	BatchID   string    `json:"batch_id"`
	Mutations int       `json:"mutations"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// SyncStatus summarises the persistence pipeline.
type SyncStatus struct {
	Async          bool          `json:"async"`
	Pending        int           `json:"pending"`
	Applied        uint64        `json:"applied"`
	Failed         uint64        `json:"failed"`
	LastSyncedAt   *time.Time    `json:"last_synced_at,omitempty"`
	LastReloadAt   *time.Time    `json:"last_reload_at,omitempty"`
	RecentFailures []SyncFailure `json:"recent_failures"`
}

// RepairReport describes a rebuild of the durable balances from the durable log.
type RepairReport struct {
	BalanceRows  int64     `json:"balance_rows"`
	Students     int       `json:"students"`
	Transactions int       `json:"transactions"`
	RepairedAt   time.Time `json:"repaired_at"`
}

// SystemMetrics is a lightweight view over the Prometheus counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	LedgerOperations         uint64    `json:"ledger_operations"`
	BadgeUnlocks             uint64    `json:"badge_unlocks"`
	TierFallbacks            uint64    `json:"tier_fallbacks"`
	SyncFailures             uint64    `json:"sync_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
