package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/framecap/internal/metrics"
	"github.com/saworbit/framecap/pkg/cas"
	"go.uber.org/zap"
)

// MetadataRecord links a captured frame to its CAS object.
type MetadataRecord struct {
	Iface     string `json:"iface"`
	Timestamp int64  `json:"ts"`
	CID       string `json:"cid"`
	Size      int    `json:"size"`
	// Length is the on-wire frame length when it exceeds Size.
	Length int `json:"len,omitempty"`
}

// WireLength returns the on-wire length of the frame.
func (m MetadataRecord) WireLength() int {
	if m.Length > m.Size {
		return m.Length
	}
	return m.Size
}

// StartProcessor launches a background worker that drains journal entries
// into CAS and metadata. The returned function stops the worker, waits for
// it, then drains whatever is left.
func StartProcessor(ctx context.Context, db *pebble.DB, store *cas.CASStore, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		processorLoop(ctx, db, store, logger)
	}()

	return func() {
		cancel()
		<-done
		if n, err := ProcessPending(db, store, logger); err != nil {
			logger.Warn("final journal drain failed", zap.Int("processed", n), zap.Error(err))
		}
	}
}

func processorLoop(ctx context.Context, db *pebble.DB, store *cas.CASStore, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := ProcessPending(db, store, logger)
		if err != nil {
			logger.Warn("journal processing error", zap.Error(err))
		}

		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// ProcessPending moves every journal entry currently present into the CAS
// and returns how many it handled. Entries that fail are logged and left in
// place.
func ProcessPending(db *pebble.DB, store *cas.CASStore, logger *zap.Logger) (int, error) {
	if db == nil || store == nil {
		return 0, fmt.Errorf("processor requires db and store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	iter, err := newPrefixIter(db, cas.PrefixLog)
	if err != nil {
		return 0, fmt.Errorf("iterator init: %w", err)
	}

	processed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		logKey := append([]byte(nil), iter.Key()...)
		payload := append([]byte(nil), iter.Value()...)

		if err := processJournalEntry(db, store, logKey, payload); err != nil {
			logger.Warn("failed to handle journal entry", zap.ByteString("key", logKey), zap.Error(err))
			continue
		}
		processed++
	}

	iterErr := iter.Error()
	if err := iter.Close(); err != nil && iterErr == nil {
		iterErr = err
	}
	return processed, iterErr
}

func processJournalEntry(db *pebble.DB, store *cas.CASStore, logKey, payload []byte) error {
	var entry JournalEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return fmt.Errorf("decode journal entry: %w", err)
	}

	cid, written, err := store.PutWithSize(entry.Data)
	if err != nil {
		return fmt.Errorf("store CAS object: %w", err)
	}
	metrics.AddStoredBytes(written)

	meta := MetadataRecord{
		Iface:     entry.Iface,
		Timestamp: entry.Timestamp,
		CID:       cid,
		Size:      len(entry.Data),
		Length:    entry.Length,
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	// Reuse the journal key suffix so metadata keeps capture order.
	metaKey := append([]byte(cas.PrefixMeta), logKey[len(cas.PrefixLog):]...)

	batch := db.NewBatch()
	defer batch.Close()

	if err := batch.Set(metaKey, metaBytes, nil); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := batch.Delete(logKey, nil); err != nil {
		return fmt.Errorf("delete journal key: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit metadata: %w", err)
	}
	return nil
}

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}
