package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
	syncOutcomeKey  = "sync"

	// SyncPendingHeader carries the number of ledger batches not yet in the database.
	SyncPendingHeader = "X-Sync-Pending"
)

// PendingCounter reports queued ledger batches.
type PendingCounter interface {
	Pending() int
}

// WithResponseMeta initialises response metadata storage on the request context and
// advertises the sync backlog so clients can warn before closing.
func WithResponseMeta(pending PendingCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(responseMetaKey, map[string]interface{}{})
		if pending != nil {
			c.Header(SyncPendingHeader, strconv.Itoa(pending.Pending()))
		}
		c.Next()
		meta := ensureMeta(c)
		if _, exists := meta["processing_time_ms"]; !exists {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit records whether the response came from the ranking cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
}

// SetSyncOutcome records what happened to the durable copy of a ledger write.
func SetSyncOutcome(c *gin.Context, outcome models.SyncOutcome) {
	ensureMeta(c)[syncOutcomeKey] = outcome
}

// ExtractMeta returns the metadata map stored on the context.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	return nil
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if meta := ExtractMeta(c); meta != nil {
		return meta
	}
	meta := make(map[string]interface{})
	if c != nil {
		c.Set(responseMetaKey, meta)
	}
	return meta
}
