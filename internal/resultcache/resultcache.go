// Package resultcache owns the current (and optionally historical) set of
// viewstream.QueryResult rows across all continuous queries, indexed by
// query, referenced entity, and field value so the processor's candidate
// lookups run in O(1) plus result size.
package resultcache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/viewstream"
)

// RetentionKind is the tagged variant of a ViewConfig's retention policy.
type RetentionKind string

const (
	Latest RetentionKind = "LATEST"
	All    RetentionKind = "ALL"
	Expire RetentionKind = "EXPIRE"
)

// RetentionPolicy configures how many historical versions of a result row
// a query keeps. TTL is only meaningful when Kind == Expire.
type RetentionPolicy struct {
	Kind RetentionKind
	TTL  time.Duration
}

// Stats is a point-in-time snapshot of cache-wide counters.
type Stats struct {
	TotalRows   int
	RowsByQuery map[string]int
	Hits        uint64
	Misses      uint64
}

type historyEntry struct {
	result viewstream.QueryResult
	at     time.Time
}

// Cache is the ResultCache implementation.
type Cache struct {
	// Clock is consulted for Expire retention purges. Defaults to
	// time.Now; tests may override it for deterministic purge behavior.
	Clock func() time.Time

	mu sync.RWMutex

	rows map[string]viewstream.QueryResult // resultId -> current row

	byQuery    map[string]map[string]struct{}            // queryId -> resultId set
	byEntity   map[string]map[string]map[string]struct{} // entityType -> valueKey -> resultId set
	byField    map[string]map[string]map[string]struct{} // fieldName -> valueKey -> resultId set
	retentions map[string]RetentionPolicy                // queryId -> policy, default Latest
	history    map[string][]historyEntry                 // resultId -> entries ordered by `at`
	extraRefs  map[string][]EntityRef                     // resultId -> refs registered outside the data mapping

	hits   uint64
	misses uint64
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{
		Clock:      time.Now,
		rows:       make(map[string]viewstream.QueryResult),
		byQuery:    make(map[string]map[string]struct{}),
		byEntity:   make(map[string]map[string]map[string]struct{}),
		byField:    make(map[string]map[string]map[string]struct{}),
		retentions: make(map[string]RetentionPolicy),
		history:    make(map[string][]historyEntry),
		extraRefs:  make(map[string][]EntityRef),
	}
}

// EntityRef is an explicit (entityType, value) pair to register against a
// row in addition to whatever the row's data mapping contributes under the
// `_id`/`Id`/literal-`id` suffix convention. The processor uses this to
// guarantee FindByEntity(queryLabel, entityId) always resolves a row back
// to the graph entity it was built from, regardless of what the query's
// RETURN clause happens to name its fields.
type EntityRef struct {
	EntityType string
	Value      any
}

// Put inserts or replaces resultId's row. When replacing, the prior row's
// index contributions are removed first using its own data mapping. extra
// registers additional entity references beyond the data-mapping
// convention (see EntityRef).
func (c *Cache) Put(result viewstream.QueryResult, extra ...EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.rows[result.ResultID]; ok {
		c.unindexLocked(result.ResultID, old)
	}
	c.rows[result.ResultID] = result
	c.indexLocked(result.ResultID, result)

	var refs []EntityRef
	for _, ref := range extra {
		if ref.Value == nil {
			continue
		}
		c.indexEntityRefLocked(result.ResultID, ref)
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		c.extraRefs[result.ResultID] = refs
	} else {
		delete(c.extraRefs, result.ResultID)
	}

	policy := c.retentions[result.QueryID]
	if policy.Kind == Latest || policy.Kind == "" {
		return
	}

	at := result.UpdatedAt
	entries := append(c.history[result.ResultID], historyEntry{result: result, at: at})
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	if policy.Kind == Expire {
		cutoff := c.Clock().Add(-policy.TTL)
		kept := entries[:0]
		for _, e := range entries {
			if !e.at.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		delete(c.history, result.ResultID)
		return
	}
	c.history[result.ResultID] = entries
}

// Get returns the current row for resultId, counting the lookup as a hit or
// miss.
func (c *Cache) Get(resultID string) (viewstream.QueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rows[resultID]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return r, ok
}

// Remove drops resultId, removing every index entry derived from its row
// first.
func (c *Cache) Remove(resultID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[resultID]
	if !ok {
		return
	}
	c.unindexLocked(resultID, row)
	delete(c.rows, resultID)
	delete(c.history, resultID)
	delete(c.extraRefs, resultID)
}

// FindByQuery returns every resultId currently belonging to queryId.
func (c *Cache) FindByQuery(queryID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return setKeys(c.byQuery[queryID])
}

// FindByEntity returns every resultId whose data mapping references
// (entityType, entityID) by the key-suffix convention (`_id`/`Id`/literal
// `id`).
func (c *Cache) FindByEntity(entityType string, entityID any) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byVal, ok := c.byEntity[entityType]
	if !ok {
		return nil
	}
	return setKeys(byVal[valueKey(entityID)])
}

// FindByField returns every resultId whose data mapping has name==value.
func (c *Cache) FindByField(name string, value any) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byVal, ok := c.byField[name]
	if !ok {
		return nil
	}
	return setKeys(byVal[valueKey(value)])
}

// ResultsAt returns the row state for each resultId of queryId whose latest
// history entry has a timestamp <= instant. Under Latest retention this
// falls back to the current row if its UpdatedAt <= instant.
func (c *Cache) ResultsAt(queryID string, instant time.Time) []viewstream.QueryResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	policy := c.retentions[queryID]
	ids := c.byQuery[queryID]
	out := make([]viewstream.QueryResult, 0, len(ids))

	if policy.Kind == Latest || policy.Kind == "" {
		for id := range ids {
			row := c.rows[id]
			if !row.UpdatedAt.After(instant) {
				out = append(out, row)
			}
		}
		return out
	}

	for id := range ids {
		entries := c.history[id]
		if r, ok := latestAtOrBefore(entries, instant); ok {
			out = append(out, r)
		}
	}
	return out
}

func latestAtOrBefore(entries []historyEntry, instant time.Time) (viewstream.QueryResult, bool) {
	// entries is sorted ascending by `at`; binary search for the rightmost
	// entry whose timestamp is <= instant.
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].at.After(instant) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return viewstream.QueryResult{}, false
	}
	return entries[lo-1].result, true
}

// SetRetention sets queryId's retention policy, used by subsequent Put and
// ResultsAt calls.
func (c *Cache) SetRetention(queryID string, policy RetentionPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retentions[queryID] = policy
}

// ClearQuery removes every row belonging to queryId.
func (c *Cache) ClearQuery(queryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.byQuery[queryID]
	for id := range ids {
		if row, ok := c.rows[id]; ok {
			c.unindexLocked(id, row)
			delete(c.rows, id)
			delete(c.history, id)
			delete(c.extraRefs, id)
		}
	}
	delete(c.byQuery, queryID)
}

// Stats returns a snapshot of cache-wide counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byQuery := make(map[string]int, len(c.byQuery))
	for q, ids := range c.byQuery {
		byQuery[q] = len(ids)
	}
	return Stats{
		TotalRows:   len(c.rows),
		RowsByQuery: byQuery,
		Hits:        c.hits,
		Misses:      c.misses,
	}
}

func (c *Cache) indexLocked(resultID string, row viewstream.QueryResult) {
	set, ok := c.byQuery[row.QueryID]
	if !ok {
		set = make(map[string]struct{})
		c.byQuery[row.QueryID] = set
	}
	set[resultID] = struct{}{}

	for _, ref := range entityRefs(row.Data) {
		byVal, ok := c.byEntity[ref.entityType]
		if !ok {
			byVal = make(map[string]map[string]struct{})
			c.byEntity[ref.entityType] = byVal
		}
		vk := valueKey(ref.value)
		ids, ok := byVal[vk]
		if !ok {
			ids = make(map[string]struct{})
			byVal[vk] = ids
		}
		ids[resultID] = struct{}{}
	}

	for name, value := range row.Data {
		if value == nil {
			continue
		}
		byVal, ok := c.byField[name]
		if !ok {
			byVal = make(map[string]map[string]struct{})
			c.byField[name] = byVal
		}
		vk := valueKey(value)
		ids, ok := byVal[vk]
		if !ok {
			ids = make(map[string]struct{})
			byVal[vk] = ids
		}
		ids[resultID] = struct{}{}
	}
}

func (c *Cache) indexEntityRefLocked(resultID string, ref EntityRef) {
	byVal, ok := c.byEntity[ref.EntityType]
	if !ok {
		byVal = make(map[string]map[string]struct{})
		c.byEntity[ref.EntityType] = byVal
	}
	vk := valueKey(ref.Value)
	ids, ok := byVal[vk]
	if !ok {
		ids = make(map[string]struct{})
		byVal[vk] = ids
	}
	ids[resultID] = struct{}{}
}

func (c *Cache) unindexLocked(resultID string, row viewstream.QueryResult) {
	if set, ok := c.byQuery[row.QueryID]; ok {
		delete(set, resultID)
		if len(set) == 0 {
			delete(c.byQuery, row.QueryID)
		}
	}

	for _, ref := range c.extraRefs[resultID] {
		byVal, ok := c.byEntity[ref.EntityType]
		if !ok {
			continue
		}
		vk := valueKey(ref.Value)
		if ids, ok := byVal[vk]; ok {
			delete(ids, resultID)
			if len(ids) == 0 {
				delete(byVal, vk)
			}
		}
		if len(byVal) == 0 {
			delete(c.byEntity, ref.EntityType)
		}
	}

	for _, ref := range entityRefs(row.Data) {
		byVal, ok := c.byEntity[ref.entityType]
		if !ok {
			continue
		}
		vk := valueKey(ref.value)
		if ids, ok := byVal[vk]; ok {
			delete(ids, resultID)
			if len(ids) == 0 {
				delete(byVal, vk)
			}
		}
		if len(byVal) == 0 {
			delete(c.byEntity, ref.entityType)
		}
	}

	for name, value := range row.Data {
		if value == nil {
			continue
		}
		byVal, ok := c.byField[name]
		if !ok {
			continue
		}
		vk := valueKey(value)
		if ids, ok := byVal[vk]; ok {
			delete(ids, resultID)
			if len(ids) == 0 {
				delete(byVal, vk)
			}
		}
		if len(byVal) == 0 {
			delete(c.byField, name)
		}
	}
}

type entityRef struct {
	entityType string
	value      any
}

// entityRefs derives the (entityType, value) pairs a data mapping
// registers, per the cache's key-suffix indexing convention: a literal
// "id" key registers ("id", value); any other key ending in "_id" or "Id"
// registers (key-minus-suffix, value).
func entityRefs(data map[string]any) []entityRef {
	var refs []entityRef
	for k, v := range data {
		if v == nil {
			continue
		}
		if k == "id" {
			refs = append(refs, entityRef{entityType: "id", value: v})
			continue
		}
		if strings.HasSuffix(k, "_id") && len(k) > len("_id") {
			refs = append(refs, entityRef{entityType: strings.TrimSuffix(k, "_id"), value: v})
			continue
		}
		if strings.HasSuffix(k, "Id") && len(k) > len("Id") {
			refs = append(refs, entityRef{entityType: strings.TrimSuffix(k, "Id"), value: v})
		}
	}
	return refs
}

func valueKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func setKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
