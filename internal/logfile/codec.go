package logfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/viant/bintly"
)

// Region encodings:
//
//	header: magic[9] | version u16 | uvarint(len) | body | crc32c(body) | zero pad
//	index:  uvarint(len) | body | crc32c(body) | zero pad
//	entry:  uvarint(len) | body | crc32c(body)
//
// Bodies are bintly streams. Regions are exactly RegionSize bytes.

// MaxEntrySize bounds a single encoded entry body.
const MaxEntrySize = 16 << 20

const headerPrefix = len(Magic) + 2

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

type binaryEncoder interface {
	EncodeBinary(*bintly.Writer) error
}

type binaryDecoder interface {
	DecodeBinary(*bintly.Reader) error
}

// EncodeBinary writes the caller supplied header fields. Magic and version
// live outside the body.
func (h *Header) EncodeBinary(w *bintly.Writer) error {
	w.String(h.Org)
	w.String(h.Title)
	w.Int(int(h.ID))
	return nil
}

// DecodeBinary is the inverse of EncodeBinary.
func (h *Header) DecodeBinary(r *bintly.Reader) error {
	var id int
	r.String(&h.Org)
	r.String(&h.Title)
	r.Int(&id)
	if id < 0 {
		return fmt.Errorf("negative file id %d", id)
	}
	h.ID = uint64(id)
	return nil
}

func (i *Index) EncodeBinary(w *bintly.Writer) error {
	putTime(w, i.Opened)
	putTime(w, i.Closed)
	w.Int(int(i.Count))
	putTime(w, i.FirstReceived)
	putTime(w, i.LastReceived)
	return nil
}

func (i *Index) DecodeBinary(r *bintly.Reader) error {
	var count int
	getTime(r, &i.Opened)
	getTime(r, &i.Closed)
	r.Int(&count)
	getTime(r, &i.FirstReceived)
	getTime(r, &i.LastReceived)
	if count < 0 {
		return fmt.Errorf("negative count %d", count)
	}
	i.Count = uint64(count)
	return nil
}

func (e *Entry) EncodeBinary(w *bintly.Writer) error {
	w.String(e.Sender)
	putTime(w, e.Received)
	w.Int16(int16(e.LogFormat))
	w.String(e.LogEntry)
	return nil
}

func (e *Entry) DecodeBinary(r *bintly.Reader) error {
	var format int16
	r.String(&e.Sender)
	getTime(r, &e.Received)
	r.Int16(&format)
	r.String(&e.LogEntry)
	e.LogFormat = LogFormat(format)
	return nil
}

// Optional timestamps carry a presence flag so the zero time never reaches
// the wire.
func putTime(w *bintly.Writer, t time.Time) {
	if t.IsZero() {
		w.Int16(0)
		return
	}
	w.Int16(1)
	w.Time(t.UTC())
}

func getTime(r *bintly.Reader, t *time.Time) {
	var set int16
	r.Int16(&set)
	if set == 0 {
		*t = time.Time{}
		return
	}
	r.Time(t)
	*t = t.UTC()
}

func encodeBody(v binaryEncoder) ([]byte, error) {
	w := writers.Get()
	defer writers.Put(w)
	if err := v.EncodeBinary(w); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.Bytes()...), nil
}

func decodeBody(body []byte, v binaryDecoder) (err error) {
	r := readers.Get()
	defer readers.Put(r)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed body: %v", p)
		}
	}()
	if err := r.FromBytes(body); err != nil {
		return err
	}
	return v.DecodeBinary(r)
}

// frame returns uvarint(len(body)) | body | crc32c(body).
func frame(body []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(body)+4)
	out = binary.AppendUvarint(out, uint64(len(body)))
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(body, castagnoli))
}

// unframe returns the body at the start of b and the total frame length.
// ok is false when b does not begin with a complete, intact frame.
func unframe(b []byte) (body []byte, n int, ok bool) {
	size, vn := binary.Uvarint(b)
	if vn <= 0 || size == 0 || size > MaxEntrySize {
		return nil, 0, false
	}
	end := vn + int(size)
	if end+4 > len(b) {
		return nil, 0, false
	}
	body = b[vn:end]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[end:end+4]) {
		return nil, 0, false
	}
	return body, end + 4, true
}

// EncodeHeader renders h into a full header region. Magic and version are
// always the current constants.
func EncodeHeader(h Header) ([]byte, error) {
	body, err := encodeBody(&h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	framed := frame(body)
	if headerPrefix+len(framed) > RegionSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, region holds %d", ErrCorruptHeader, headerPrefix+len(framed), RegionSize)
	}
	region := make([]byte, RegionSize)
	copy(region, Magic)
	binary.BigEndian.PutUint16(region[len(Magic):], Version)
	copy(region[headerPrefix:], framed)
	return region, nil
}

// DecodeHeader parses a header region.
func DecodeHeader(region []byte) (Header, error) {
	if len(region) < RegionSize {
		return Header{}, fmt.Errorf("%w: short region (%d bytes)", ErrCorruptHeader, len(region))
	}
	if string(region[:len(Magic)]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	version := binary.BigEndian.Uint16(region[len(Magic):])
	if version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, version)
	}
	body, _, ok := unframe(region[headerPrefix:RegionSize])
	if !ok {
		return Header{}, fmt.Errorf("%w: damaged header body", ErrCorruptHeader)
	}
	h := Header{Magic: Magic, Version: int(version)}
	if err := decodeBody(body, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	return h, nil
}

// EncodeIndex renders idx into a full index region.
func EncodeIndex(idx Index) ([]byte, error) {
	body, err := encodeBody(&idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	framed := frame(body)
	if len(framed) > RegionSize {
		return nil, fmt.Errorf("%w: index needs %d bytes, region holds %d", ErrCorruptIndex, len(framed), RegionSize)
	}
	region := make([]byte, RegionSize)
	copy(region, framed)
	return region, nil
}

// DecodeIndex parses an index region.
func DecodeIndex(region []byte) (Index, error) {
	if len(region) < RegionSize {
		return Index{}, fmt.Errorf("%w: short region (%d bytes)", ErrCorruptIndex, len(region))
	}
	body, _, ok := unframe(region[:RegionSize])
	if !ok {
		return Index{}, fmt.Errorf("%w: damaged index body", ErrCorruptIndex)
	}
	var idx Index
	if err := decodeBody(body, &idx); err != nil {
		return Index{}, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	return idx, nil
}

// EncodeEntry returns the self-delimiting encoding of e.
func EncodeEntry(e Entry) ([]byte, error) {
	body, err := encodeBody(&e)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxEntrySize {
		return nil, fmt.Errorf("entry of %d bytes exceeds limit %d", len(body), MaxEntrySize)
	}
	return frame(body), nil
}

// DecodeEntry decodes the entry at the start of b and reports the bytes it
// occupied. ok is false when b holds no complete entry: truncated, torn or
// failing its checksum. That is the end of the readable data, not an error.
func DecodeEntry(b []byte) (e Entry, n int, ok bool) {
	body, n, ok := unframe(b)
	if !ok {
		return Entry{}, 0, false
	}
	if err := decodeBody(body, &e); err != nil {
		return Entry{}, 0, false
	}
	return e, n, true
}

// IsLogFile reports whether path starts with the towl magic.
func IsLogFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return string(buf) == Magic
}
