// Package capability remembers which optional columns exist in the connected
// database. Answers expire and can be reset; probe failures are never cached.
package capability

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
)

// probeTimeout bounds a shared probe once it no longer follows any caller's context
const probeTimeout = 10 * time.Second

// Prober checks the remote schema for a column
type Prober interface {
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// Cache memoizes probe answers in a CacheInterface with a TTL
type Cache struct {
	prober Prober
	store  common.CacheInterface
	ttl    time.Duration
	group  singleflight.Group

	probeTimeout time.Duration

	// Observe is called with "hit", "miss" or "error" for every lookup
	Observe func(result string)
}

func NewCache(prober Prober, store common.CacheInterface, ttl time.Duration) *Cache {
	return &Cache{prober: prober, store: store, ttl: ttl, probeTimeout: probeTimeout}
}

func key(table, column string) string {
	return fmt.Sprintf("%s%s.%s", constants.CachePrefixCapability, table, column)
}

// Has reports whether table.column exists. On probe failure it returns false
// with the error and leaves the cache empty so the next call probes again.
func (c *Cache) Has(ctx context.Context, table, column string) (bool, error) {
	k := key(table, column)
	if v, ok := c.store.Get(k); ok {
		if b, ok := v.(bool); ok {
			c.observe("hit")
			return b, nil
		}
	}

	// The probe is shared by every waiting caller, so one caller leaving must
	// not cancel it for the rest
	ch := c.group.DoChan(k, func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.probeTimeout)
		defer cancel()
		exists, err := c.prober.ColumnExists(probeCtx, table, column)
		if err != nil {
			return false, err
		}
		c.store.Set(k, exists, c.ttl)
		return exists, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		c.observe("error")
		logging.Warn("Capability probe failed",
			"table", table,
			"column", column,
			"error", err.Error(),
		)
		return false, err
	}

	c.observe("miss")
	return v.(bool), nil
}

// Invalidate drops one cached answer
func (c *Cache) Invalidate(table, column string) {
	c.store.Delete(key(table, column))
}

// Reset drops every cached answer
func (c *Cache) Reset() int {
	n := c.store.DeletePrefix(string(constants.CachePrefixCapability))
	logging.Info("Capability cache reset", "removed", n)
	return n
}

func (c *Cache) observe(result string) {
	if c.Observe != nil {
		c.Observe(result)
	}
}
