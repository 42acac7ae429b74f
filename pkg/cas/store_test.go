package cas

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

func setupTestDB(t *testing.T) *pebble.DB {
	t.Helper()

	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustStore(t *testing.T, algo string) *CASStore {
	t.Helper()
	store, err := NewCASStore(setupTestDB(t), algo)
	if err != nil {
		t.Fatalf("NewCASStore(%s) error = %v", algo, err)
	}
	return store
}

func TestNewCASStoreRejectsUnknownAlgo(t *testing.T) {
	if _, err := NewCASStore(setupTestDB(t), "md5"); err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}
	if _, err := NewCASStore(nil, "sha256"); err == nil {
		t.Fatal("expected error for nil database")
	}
}

func TestCASStore_PutAndGet(t *testing.T) {
	for _, algo := range []string{"sha256", "blake3"} {
		t.Run(algo, func(t *testing.T) {
			store := mustStore(t, algo)
			frame := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 64)

			cid, written, err := store.PutWithSize(frame)
			if err != nil {
				t.Fatalf("PutWithSize() error = %v", err)
			}
			if cid == "" {
				t.Fatal("PutWithSize() returned empty CID")
			}
			if written == 0 || written >= len(frame) {
				t.Errorf("expected compressed size below %d, got %d", len(frame), written)
			}

			got, err := store.Get(cid)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(got, frame) {
				t.Errorf("Get() returned different data")
			}
		})
	}
}

func TestCASStore_Deduplication(t *testing.T) {
	store := mustStore(t, "sha256")
	frame := []byte("same frame twice")

	cid1, _, err := store.PutWithSize(frame)
	if err != nil {
		t.Fatalf("first Put error = %v", err)
	}
	cid2, written, err := store.PutWithSize(frame)
	if err != nil {
		t.Fatalf("second Put error = %v", err)
	}
	if cid1 != cid2 {
		t.Errorf("expected identical CIDs, got %s and %s", cid1, cid2)
	}
	if written != 0 {
		t.Errorf("expected no bytes written for duplicate, got %d", written)
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalObjects != 1 {
		t.Errorf("expected 1 object, got %d", stats.TotalObjects)
	}
}

func TestCASStore_GetMissingAndDelete(t *testing.T) {
	store := mustStore(t, "sha256")

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cid, err := store.Put([]byte("to delete"))
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if err := store.Delete(cid); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	exists, err := store.Has(cid)
	if err != nil {
		t.Fatalf("Has error = %v", err)
	}
	if exists {
		t.Error("expected CID to be gone after Delete")
	}
}

func TestDecompressPassesThroughRawData(t *testing.T) {
	raw := []byte("no magic")
	out, err := decompressFromStorage(raw)
	if err != nil {
		t.Fatalf("decompressFromStorage error = %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("expected raw passthrough, got %q", out)
	}
}
