// Package identity resolves workspace members by name.
//
// A Cache holds one lazily built table per team that maps every known display
// name and real name to the member's stable ID and avatar. It also keeps the
// bot's own member ID per team. Both tables are process-wide and filled on
// first access.
//
// Entries never expire and there is no invalidation API. A TTL would be an
// extension of Cache, not a change to callers: Identities and SelfID would
// simply re-fetch once an entry is older than the limit.
//
// Concurrency:
//   - Whole-table writes happen under a mutex, so readers never observe a
//     partially built table.
//   - Concurrent cold lookups for the same team share one upstream fetch
//     (singleflight). Two fetches that do race simply overwrite each other.
//   - The shared fetch runs detached from any one caller's cancellation and
//     is bounded by FetchTimeout. A caller whose context ends stops waiting
//     without failing the others.
//   - A failed fetch stores nothing; the next call fetches again.
package identity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Identity is the resolved (member ID, avatar) pair for a name.
type Identity struct {
	ID        string `json:"id"`
	AvatarURL string `json:"avatar_url"`
}

// Table maps display and real names to identities for one team.
type Table map[string]Identity

// Member is one row of a membership listing.
type Member struct {
	ID          string
	DisplayName string
	RealName    string
	AvatarURL   string
}

// Page is one page of a membership listing. HasMore reports whether another
// page follows, reachable with NextCursor.
type Page struct {
	Members    []Member
	HasMore    bool
	NextCursor string
}

// FetchPageFunc returns the membership page starting at cursor ("" for the
// first page).
type FetchPageFunc func(ctx context.Context, cursor string) (Page, error)

// FetchSelfFunc returns the bot's own member ID for the team.
type FetchSelfFunc func(ctx context.Context) (string, error)

// ErrMissingCursor is returned when a source reports more pages but no cursor
// to reach them.
var ErrMissingCursor = errors.New("membership source reported more pages without a cursor")

// DefaultFetchTimeout bounds a shared upstream fetch.
const DefaultFetchTimeout = 30 * time.Second

// Cache is safe for concurrent use. The zero value is not usable; call NewCache.
type Cache struct {
	// FetchTimeout bounds one shared fetch. Zero means DefaultFetchTimeout.
	FetchTimeout time.Duration

	mu     sync.RWMutex
	tables map[string]Table
	selves map[string]string

	group singleflight.Group
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		tables: make(map[string]Table),
		selves: make(map[string]string),
	}
}

// Identities returns the identity table for teamID, building it with fetch on
// the first call. The returned table is shared and must not be modified.
func (c *Cache) Identities(ctx context.Context, teamID string, fetch FetchPageFunc) (Table, error) {
	c.mu.RLock()
	t, ok := c.tables[teamID]
	c.mu.RUnlock()
	if ok {
		cacheLookups.WithLabelValues("identities", "hit").Inc()
		return t, nil
	}
	cacheLookups.WithLabelValues("identities", "miss").Inc()

	v, err := c.shared(ctx, "identities:"+teamID, func(ctx context.Context) (any, error) {
		t, err := buildTable(ctx, fetch)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tables[teamID] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Table), nil
}

// SelfID returns the bot's member ID for teamID, calling fetch on the first
// call only.
func (c *Cache) SelfID(ctx context.Context, teamID string, fetch FetchSelfFunc) (string, error) {
	c.mu.RLock()
	id, ok := c.selves[teamID]
	c.mu.RUnlock()
	if ok {
		cacheLookups.WithLabelValues("self", "hit").Inc()
		return id, nil
	}
	cacheLookups.WithLabelValues("self", "miss").Inc()

	v, err := c.shared(ctx, "self:"+teamID, func(ctx context.Context) (any, error) {
		id, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.selves[teamID] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// shared runs fn once per key across concurrent callers and waits for the
// result or for ctx to end, whichever comes first.
func (c *Cache) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// buildTable pages through the full membership list.
func buildTable(ctx context.Context, fetch FetchPageFunc) (Table, error) {
	t := make(Table)
	cursor := ""
	for {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Members {
			id := Identity{ID: m.ID, AvatarURL: m.AvatarURL}
			// Both names point at the same identity; later members win on collisions.
			if m.DisplayName != "" {
				t[m.DisplayName] = id
			}
			if m.RealName != "" {
				t[m.RealName] = id
			}
		}
		if !page.HasMore {
			return t, nil
		}
		if page.NextCursor == "" {
			return nil, ErrMissingCursor
		}
		cursor = page.NextCursor
	}
}

// Lookup returns the identity registered under name.
func (t Table) Lookup(name string) (Identity, bool) {
	id, ok := t[name]
	return id, ok
}

// Names returns every key of the table, sorted.
func (t Table) Names() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SpeakerLabels returns the distinct member IDs held as table values, sorted.
// These are the labels the conversation window uses for senders.
func (t Table) SpeakerLabels() []string {
	seen := make(map[string]struct{}, len(t))
	out := make([]string, 0, len(t))
	for _, id := range t {
		if id.ID == "" {
			continue
		}
		if _, dup := seen[id.ID]; dup {
			continue
		}
		seen[id.ID] = struct{}{}
		out = append(out, id.ID)
	}
	sort.Strings(out)
	return out
}
