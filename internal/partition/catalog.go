package partition

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
)

// ArchiveRecord remembers where a retired file was copied to.
type ArchiveRecord struct {
	ID         uint64    `json:"id"`
	URL        string    `json:"url"`
	ArchivedAt time.Time `json:"archived_at"`
}

// catalog persists engine metadata in Pebble.
type catalog struct {
	db *pebblestore.DB
}

func (c catalog) getUint(key []byte) (uint64, bool, error) {
	v, err := c.db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("catalog key %q: want 8 bytes, got %d", key, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

func (c catalog) setUint(key []byte, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return c.db.Set(key, b[:])
}

func (c catalog) nextID() (uint64, error) {
	v, ok, err := c.getUint(KeyNextID())
	if err != nil || !ok {
		return 1, err
	}
	return v, nil
}

func (c catalog) setNextID(v uint64) error { return c.setUint(KeyNextID(), v) }

func (c catalog) boundary() (uint64, error) {
	v, _, err := c.getUint(KeyBoundary())
	return v, err
}

func (c catalog) setBoundary(v uint64) error { return c.setUint(KeyBoundary(), v) }

func (c catalog) policy() (Policy, bool, error) {
	v, err := c.db.Get(KeyPolicy())
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	var p Policy
	if err := json.Unmarshal(v, &p); err != nil {
		return Policy{}, false, fmt.Errorf("catalog policy: %w", err)
	}
	return p, true, nil
}

func (c catalog) setPolicy(p Policy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.db.Set(KeyPolicy(), b)
}

func (c catalog) putArchive(ctx context.Context, rec ArchiveRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Update(ctx, func(batch *pebble.Batch) error {
		return batch.Set(KeyArchive(rec.ID), b, nil)
	})
}

func (c catalog) archives() ([]ArchiveRecord, error) {
	var out []ArchiveRecord
	err := c.db.ScanPrefix(archivePrefix, func(_, v []byte) error {
		var rec ArchiveRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("catalog archive record: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
