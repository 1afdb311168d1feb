// Package positioncache holds (accountId, productId)→quantity holdings
// and the product→accounts reverse index the Valuation Core fans out
// over. Shaped like the price cache's mutex-guarded map, keyed
// differently.
package positioncache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

type key struct {
	accountID int64
	productID int64
}

// Cache holds positions and their reverse index.
type Cache struct {
	mu        sync.RWMutex
	positions map[key]domain.Position
	byProduct map[int64]map[int64]struct{} // productId -> set of accountIds
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		positions: make(map[key]domain.Position),
		byProduct: make(map[int64]map[int64]struct{}),
	}
}

// SetQuantity upserts a position. A zero quantity removes the entry and
// its reverse-index membership; absence and zero are equivalent to the
// Valuation Core.
func (c *Cache) SetQuantity(accountID, productID int64, qty decimal.Decimal, lastUpdated time.Time) {
	k := key{accountID, productID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if qty.IsZero() {
		delete(c.positions, k)
		c.removeFromIndexLocked(productID, accountID)
		return
	}

	c.positions[k] = domain.Position{
		AccountID:   accountID,
		ProductID:   productID,
		Quantity:    qty,
		LastUpdated: lastUpdated,
	}
	c.addToIndexLocked(productID, accountID)
}

// GetQuantity returns the held quantity, or zero if absent.
func (c *Cache) GetQuantity(accountID, productID int64) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[key{accountID, productID}]
	if !ok {
		return decimal.Zero
	}
	return pos.Quantity
}

// AccountsHolding returns a snapshot copy of the accounts holding
// productID. Copying under the read lock avoids any partial tear a
// concurrent writer could otherwise expose.
func (c *Cache) AccountsHolding(productID int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.byProduct[productID]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(set))
	for acct := range set {
		out = append(out, acct)
	}
	return out
}

// BulkReplace atomically replaces every position for accountID with
// snapshot, used for EOD snapshot application. Either the
// whole new snapshot becomes visible or the prior one remains: every
// removal and insertion is applied while holding the write lock, so no
// reader observes a partly replaced account.
func (c *Cache) BulkReplace(accountID int64, snapshot []domain.PositionDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove this account's existing holdings from the reverse index.
	for k := range c.positions {
		if k.accountID == accountID {
			delete(c.positions, k)
			c.removeFromIndexLocked(k.productID, accountID)
		}
	}

	for _, delta := range snapshot {
		if delta.Quantity.IsZero() {
			continue
		}
		c.positions[key{accountID, delta.ProductID}] = domain.Position{
			AccountID: accountID,
			ProductID: delta.ProductID,
			Quantity:  delta.Quantity,
		}
		c.addToIndexLocked(delta.ProductID, accountID)
	}
}

func (c *Cache) addToIndexLocked(productID, accountID int64) {
	set, ok := c.byProduct[productID]
	if !ok {
		set = make(map[int64]struct{})
		c.byProduct[productID] = set
	}
	set[accountID] = struct{}{}
}

func (c *Cache) removeFromIndexLocked(productID, accountID int64) {
	set, ok := c.byProduct[productID]
	if !ok {
		return
	}
	delete(set, accountID)
	if len(set) == 0 {
		delete(c.byProduct, productID)
	}
}

// Len reports the number of live positions, for the position_cache_size
// gauge.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.positions)
}
