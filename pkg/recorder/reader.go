package recorder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/framecap/pkg/cas"
	"go.uber.org/zap"
)

const sessionKey = "session:start"

// FrameFunc receives one recorded frame. Returning an error stops the walk.
type FrameFunc func(meta MetadataRecord, frame []byte) error

// ForEachFrame visits recorded frames in capture order, stopping after the
// last frame at or before until. A zero until visits everything. Corrupt
// metadata entries are logged and skipped.
func ForEachFrame(db *pebble.DB, store *cas.CASStore, until time.Time, logger *zap.Logger, fn FrameFunc) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	iter, err := newPrefixIter(db, cas.PrefixMeta)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	cutoff := int64(-1)
	if !until.IsZero() {
		cutoff = until.UnixNano()
	}

	visited := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var meta MetadataRecord
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			logger.Warn("skip corrupt metadata", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		if cutoff >= 0 && meta.Timestamp > cutoff {
			break
		}

		data, err := store.Get(meta.CID)
		if err != nil {
			return visited, fmt.Errorf("load CAS object %s: %w", meta.CID, err)
		}
		if err := fn(meta, data); err != nil {
			return visited, err
		}
		visited++
	}

	return visited, iter.Error()
}

// RecordSessionStart stores the first capture start time; later calls keep
// the original value.
func RecordSessionStart(db *pebble.DB, start time.Time) error {
	if db == nil {
		return fmt.Errorf("pebble database is not initialized")
	}

	if _, closer, err := db.Get([]byte(sessionKey)); err == nil {
		closer.Close()
		return nil
	}

	val := []byte(fmt.Sprintf("%020d", start.UnixNano()))
	return db.Set([]byte(sessionKey), val, pebble.Sync)
}

// LoadSessionStart returns the recorded start time, or the zero time.
func LoadSessionStart(db *pebble.DB) time.Time {
	val, closer, err := db.Get([]byte(sessionKey))
	if err != nil {
		return time.Time{}
	}
	defer closer.Close()

	ts, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// ParseTargetTime resolves "latest", a duration relative to the session
// start, or an RFC3339 timestamp. "latest" yields the zero time.
func ParseTargetTime(raw string, sessionStart time.Time) (time.Time, error) {
	if raw == "" || raw == "latest" {
		return time.Time{}, nil
	}

	if dur, err := time.ParseDuration(raw); err == nil {
		if sessionStart.IsZero() {
			return time.Time{}, fmt.Errorf("session start unknown; cannot apply duration %s", raw)
		}
		return sessionStart.Add(dur), nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}

	return time.Time{}, fmt.Errorf("invalid time value %q", raw)
}
