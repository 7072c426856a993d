package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/mladen5000/strain-ahsp/codec"
	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/internal/hash"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/sketch"
)

// Record layout (little endian):
//
//	magic    [4]byte "AHSG"
//	version  uint8
//	compress uint8   codec.Compression of the payload
//	crc      uint32  CRC32-C of the stored payload
//	length   uint32  stored payload length
//	payload  []byte
//
// The decompressed payload is the id, the macro and meso sketches and the
// metadata. Sketch hashes are delta encoded as uvarints.
const (
	recordMagic   = "AHSG"
	recordVersion = 1
	headerSize    = 14

	maxPayload    = 64 << 20
	maxSketchSize = 1 << 24
)

func encodeRecord(sig *signature.Signature, comp codec.Compression) ([]byte, error) {
	payload := appendString(nil, sig.ID)
	payload = appendSketch(payload, sig.Macro)
	payload = appendSketch(payload, sig.Meso)
	payload = appendMetadata(payload, sig.Metadata)

	stored, err := codec.Compress(comp, payload)
	if err != nil {
		return nil, errkind.New(errkind.Serialization, "store.encode", sig.ID, err)
	}
	if len(stored) > maxPayload {
		return nil, errkind.New(errkind.Serialization, "store.encode", sig.ID,
			fmt.Errorf("record of %d bytes exceeds limit", len(stored)))
	}

	out := make([]byte, headerSize, headerSize+len(stored))
	copy(out, recordMagic)
	out[4] = recordVersion
	out[5] = byte(comp)
	binary.LittleEndian.PutUint32(out[6:], hash.CRC32C(stored))
	binary.LittleEndian.PutUint32(out[10:], uint32(len(stored)))
	return append(out, stored...), nil
}

func decodeRecord(data []byte) (*signature.Signature, error) {
	if len(data) < headerSize || string(data[:4]) != recordMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if data[4] != recordVersion {
		return nil, fmt.Errorf("%w: version %d", ErrVersion, data[4])
	}
	comp := codec.Compression(data[5])
	if !comp.Valid() {
		return nil, fmt.Errorf("%w: compression %d", ErrCorrupt, data[5])
	}
	n := binary.LittleEndian.Uint32(data[10:])
	if int(n) != len(data)-headerSize {
		return nil, fmt.Errorf("%w: length %d, have %d", ErrCorrupt, n, len(data)-headerSize)
	}
	stored := data[headerSize:]
	if !hash.Verify(stored, binary.LittleEndian.Uint32(data[6:])) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	payload, err := codec.Decompress(comp, stored, maxPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	r := reader{buf: payload}
	sig := &signature.Signature{ID: r.string()}
	sig.Macro = r.sketch()
	sig.Meso = r.sketch()
	sig.Metadata = r.metadata()
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, r.err)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return sig, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendSketch(b []byte, s sketch.Sketch) []byte {
	b = binary.AppendUvarint(b, uint64(s.K))
	b = binary.AppendUvarint(b, uint64(s.Size))
	b = appendString(b, s.Family)
	b = binary.AppendUvarint(b, uint64(len(s.Hashes)))
	var prev uint64
	for _, h := range s.Hashes {
		b = binary.AppendUvarint(b, h-prev)
		prev = h
	}
	return b
}

func appendMetadata(b []byte, m signature.Metadata) []byte {
	b = appendString(b, m.Accession)
	b = appendString(b, m.Organism)
	b = binary.AppendVarint(b, m.TaxID)
	b = binary.AppendUvarint(b, uint64(len(m.Lineage)))
	for _, t := range m.Lineage {
		b = appendString(b, t)
	}
	b = binary.AppendVarint(b, m.Length)
	b = appendString(b, m.Source)
	b = appendString(b, m.AssemblyLevel)
	b = appendString(b, m.ReleaseDate)
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(m.GCContent))
}

var errShort = errors.New("truncated payload")

// reader decodes a payload; the first error sticks and later reads return
// zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errShort
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.err = errShort
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) string() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)) {
		r.err = errShort
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *reader) count(limit uint64) int {
	n := r.uvarint()
	if r.err == nil && n > limit {
		r.err = fmt.Errorf("count %d exceeds %d", n, limit)
	}
	if r.err != nil {
		return 0
	}
	return int(n)
}

func (r *reader) sketch() sketch.Sketch {
	s := sketch.Sketch{
		K:    r.count(sketch.MaxK),
		Size: r.count(maxSketchSize),
	}
	s.Family = r.string()
	// Every hash takes at least one byte.
	n := r.count(uint64(min(s.Size, len(r.buf))))
	if r.err != nil {
		return s
	}
	s.Hashes = make([]uint64, n)
	var prev uint64
	for i := range s.Hashes {
		prev += r.uvarint()
		s.Hashes[i] = prev
	}
	return s
}

func (r *reader) metadata() signature.Metadata {
	var m signature.Metadata
	m.Accession = r.string()
	m.Organism = r.string()
	m.TaxID = r.varint()
	n := r.count(uint64(len(r.buf)))
	if n > 0 {
		m.Lineage = make([]string, n)
		for i := range m.Lineage {
			m.Lineage[i] = r.string()
		}
	}
	m.Length = r.varint()
	m.Source = r.string()
	m.AssemblyLevel = r.string()
	m.ReleaseDate = r.string()
	if r.err == nil {
		if len(r.buf) < 8 {
			r.err = errShort
		} else {
			m.GCContent = math.Float64frombits(binary.LittleEndian.Uint64(r.buf))
			r.buf = r.buf[8:]
		}
	}
	return m
}

// encodeTerms and decodeTerms store the indexed terms of a signature, so that
// replace and remove can drop postings without decoding the old record.
func encodeTerms(terms []string) []byte {
	b := binary.AppendUvarint(nil, uint64(len(terms)))
	for _, t := range terms {
		b = appendString(b, t)
	}
	return b
}

func decodeTerms(b []byte) ([]string, error) {
	r := reader{buf: b}
	n := r.count(uint64(len(b)))
	out := make([]string, 0, n)
	for range n {
		out = append(out, r.string())
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: term list: %w", ErrCorrupt, r.err)
	}
	return out, nil
}
