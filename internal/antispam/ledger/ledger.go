// Package ledger keeps the per-user rolling log of recent message activity.
package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam/types"
	"go.uber.org/zap"
)

// Ledger maps users to their recent messages. Entries are appended in
// arrival order and never mutated; the periodic sweep is the only other
// write. Users whose entries all age out are dropped from the map entirely
// to bound memory over long uptimes.
type Ledger struct {
	mu      sync.RWMutex
	entries map[snowflake.ID][]types.Message
	logger  *zap.Logger
}

// New creates an empty Ledger.
func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		entries: make(map[snowflake.ID][]types.Message),
		logger:  logger.Named("ledger"),
	}
}

// Record appends a message to the user's history.
func (l *Ledger) Record(userID snowflake.ID, msg types.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[userID] = append(l.entries[userID], msg)
}

// Window returns the user's messages with now - timestamp <= duration,
// in original order.
func (l *Ledger) Window(userID snowflake.ID, now time.Time, duration time.Duration) []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := l.entries[userID]

	var window []types.Message

	for _, msg := range history {
		if now.Sub(msg.Timestamp) <= duration {
			window = append(window, msg)
		}
	}

	return window
}

// History returns a copy of the user's full retained history.
func (l *Ledger) History(userID snowflake.ID) []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.entries[userID])
}

// Len returns the number of retained entries for a user.
func (l *Ledger) Len(userID snowflake.ID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries[userID])
}

// UserCount returns the number of users with retained history.
func (l *Ledger) UserCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

// Sweep removes all entries older than maxAge and drops users left with no
// entries. Returns the users still tracked and the entries removed.
func (l *Ledger) Sweep(now time.Time, maxAge time.Duration) (usersTracked, entriesRemoved int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for userID, history := range l.entries {
		kept := history[:0:0]

		for _, msg := range history {
			if now.Sub(msg.Timestamp) <= maxAge {
				kept = append(kept, msg)
			}
		}

		entriesRemoved += len(history) - len(kept)

		if len(kept) == 0 {
			delete(l.entries, userID)
			continue
		}

		l.entries[userID] = kept
	}

	return len(l.entries), entriesRemoved
}

// RunSweeper periodically sweeps aged entries until the context is done.
// It runs independently of message traffic.
func (l *Ledger) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			users, removed := l.Sweep(now, maxAge)
			l.logger.Debug("Swept message history",
				zap.Int("users_tracked", users),
				zap.Int("entries_removed", removed))
		}
	}
}
