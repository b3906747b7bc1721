package partition

import "encoding/binary"

// Catalog keyspace, byte-wise sortable:
//   - towl/meta/next_id       next file id (be8)
//   - towl/meta/boundary      retention boundary (be8)
//   - towl/meta/policy        active policy (json)
//   - towl/archive/{id_be8}   archive record (json)

var (
	metaPrefix    = []byte("towl/meta/")
	archivePrefix = []byte("towl/archive/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func metaKey(name string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(name))
	k = append(k, metaPrefix...)
	return append(k, name...)
}

// KeyNextID stores the id the next created file receives.
func KeyNextID() []byte { return metaKey("next_id") }

// KeyBoundary stores the highest retention boundary requested so far.
func KeyBoundary() []byte { return metaKey("boundary") }

// KeyPolicy stores the last accepted rollover policy.
func KeyPolicy() []byte { return metaKey("policy") }

// KeyArchive builds the archive record key for a file id.
func KeyArchive(id uint64) []byte {
	k := make([]byte, 0, len(archivePrefix)+8)
	k = append(k, archivePrefix...)
	return appendBE8(k, id)
}
