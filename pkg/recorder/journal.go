package recorder

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/framecap/internal/metrics"
	"github.com/saworbit/framecap/pkg/cas"
)

// JournalEntry is a captured frame waiting to be moved into the CAS.
type JournalEntry struct {
	Timestamp int64  `json:"ts"` // Nanoseconds
	Iface     string `json:"iface"`
	Data      []byte `json:"data"`
	// Length is the on-wire frame length; zero means len(Data).
	Length int `json:"len,omitempty"`
}

// Journal appends raw frames to Pebble using a time-ordered prefix.
type Journal struct {
	db  *pebble.DB
	now func() time.Time
}

// NewJournal creates a journal writer bound to the provided Pebble instance.
func NewJournal(db *pebble.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Append records one frame captured on iface.
func (j *Journal) Append(iface string, frame []byte) error {
	return j.AppendFrame(iface, frame, len(frame))
}

// AppendFrame records a frame whose on-wire length may exceed the bytes
// that were captured.
func (j *Journal) AppendFrame(iface string, frame []byte, length int) error {
	err := j.append(iface, frame, length, j.now())
	metrics.ObserveJournal(err)
	return err
}

func (j *Journal) append(iface string, frame []byte, length int, ts time.Time) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("pebble database is not initialized")
	}

	entry := JournalEntry{
		Timestamp: ts.UnixNano(),
		Iface:     iface,
		Data:      frame,
	}
	if length > len(frame) {
		entry.Length = length
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	key, err := timeKey(cas.PrefixLog, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("generate journal key: %w", err)
	}

	if err := j.db.Set(key, payload, pebble.NoSync); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// timeKey builds prefix + zero-padded nanoseconds + random suffix, so keys
// sort by capture time and never collide within one nanosecond.
func timeKey(prefix string, ts int64) ([]byte, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s%020d:%s", prefix, ts, suffix)), nil
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
