// Package buffer provides the TTL buffer that decouples high-frequency
// ingestion from slower durable writes. It is backed by BadgerDB, whose
// per-entry TTL evicts expired events without any application-level sweep.
package buffer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/logweir/logweir/internal/models"
)

const (
	// Key prefix for buffered events.
	// Format: evt:{received_at_ns}:{event_id}
	prefixEvent = "evt:"
)

// Buffer is a TTL-bounded key-value buffer of accepted log events.
type Buffer struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Options configure the buffer.
type Options struct {
	// Dir is the badger data directory. Empty means in-memory, used by tests.
	Dir string
	// TTL applies to every entry written through Put.
	TTL time.Duration
}

// Open opens (or creates) the buffer at the configured directory.
func Open(opts Options, logger *slog.Logger) (*Buffer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("buffer TTL must be positive")
	}

	badgerOpts := badger.DefaultOptions(opts.Dir)
	badgerOpts.Logger = nil
	if opts.Dir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening buffer store: %w", err)
	}

	logger.Info("buffer opened", "dir", opts.Dir, "ttl", opts.TTL.String())
	return &Buffer{db: db, ttl: opts.TTL, logger: logger}, nil
}

// eventKey generates the storage key for an event. Keys sort by arrival
// time, so iteration yields arrival order.
func eventKey(event *models.LogEvent) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixEvent, event.ReceivedAt.UnixNano(), event.ID))
}

// Put stores an accepted event with the buffer's TTL. The returned entry
// carries the expiry assigned to it.
func (b *Buffer) Put(event *models.LogEvent) (*models.BufferEntry, error) {
	entry := &models.BufferEntry{
		Event:     *event,
		ExpiresAt: time.Now().Add(b.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling buffer entry: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(eventKey(event), data).WithTTL(b.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return nil, fmt.Errorf("writing buffer entry: %w", err)
	}
	return entry, nil
}

// GetAll returns all live entries in arrival order.
func (b *Buffer) GetAll() ([]*models.BufferEntry, error) {
	return b.scan(func(*models.BufferEntry) bool { return true })
}

// GetByTrace returns all live entries for a trace in arrival order.
func (b *Buffer) GetByTrace(traceID string) ([]*models.BufferEntry, error) {
	return b.scan(func(e *models.BufferEntry) bool {
		return e.Event.TraceID == traceID
	})
}

// GetByUser returns all live entries for a user in arrival order.
func (b *Buffer) GetByUser(userID string) ([]*models.BufferEntry, error) {
	return b.scan(func(e *models.BufferEntry) bool {
		return e.Event.UserID == userID
	})
}

// scan iterates live entries, applying the filter. Badger hides expired
// keys from iterators, so expiry needs no handling here.
func (b *Buffer) scan(keep func(*models.BufferEntry) bool) ([]*models.BufferEntry, error) {
	var entries []*models.BufferEntry

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEvent)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixEvent)); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry models.BufferEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return nil // Skip invalid entries
				}
				if keep(&entry) {
					entries = append(entries, &entry)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning buffer: %w", err)
	}

	return entries, nil
}

// Stats summarizes the live contents of the buffer.
func (b *Buffer) Stats() (*models.BufferStats, error) {
	stats := &models.BufferStats{
		BySystem: make(map[models.System]int),
	}
	traces := make(map[string]struct{})

	entries, err := b.GetAll()
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		stats.Count++
		stats.BySystem[entry.Event.System]++
		if entry.Event.TraceID != "" {
			traces[entry.Event.TraceID] = struct{}{}
		}
	}
	stats.ActiveTraces = len(traces)

	return stats, nil
}

// Clear removes every buffered entry, expired or not. Operators use this to
// establish a clean window for a fresh debugging session.
func (b *Buffer) Clear() error {
	err := b.db.DropPrefix([]byte(prefixEvent))
	if err != nil {
		return fmt.Errorf("clearing buffer: %w", err)
	}
	b.logger.Info("buffer cleared")
	return nil
}

// Ping verifies the buffer is usable.
func (b *Buffer) Ping() error {
	if b.db.IsClosed() {
		return fmt.Errorf("buffer store is closed")
	}
	return nil
}

// Close closes the underlying store.
func (b *Buffer) Close() error {
	return b.db.Close()
}
