// Package fasta reads nucleotide FASTA, plain or gzip-compressed.
package fasta

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrNoRecords is returned when the input has no sequence at all.
var ErrNoRecords = errors.New("fasta: no records")

// Record is one FASTA entry.
type Record struct {
	ID          string
	Description string
	Seq         []byte
}

var gzipMagic = []byte{0x1f, 0x8b}

// Open wraps r with a gzip reader when the stream starts with the gzip magic.
func Open(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if bytes.Equal(head, gzipMagic) {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("fasta: gzip: %w", err)
		}
		return gr, nil
	}
	return io.NopCloser(br), nil
}

// Parse reads every record of r. Sequence lines are upper-cased and
// stripped of whitespace. Text before the first header is treated as an
// anonymous record.
func Parse(r io.Reader) ([]Record, error) {
	rc, err := Open(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		out []Record
		cur *Record
	)
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<26)
	for sc.Scan() {
		line := bytes.TrimRight(sc.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			out = append(out, parseHeader(line[1:]))
			cur = &out[len(out)-1]
			continue
		}
		if line[0] == ';' {
			continue
		}
		if cur == nil {
			out = append(out, Record{})
			cur = &out[len(out)-1]
		}
		for _, b := range line {
			if b == ' ' || b == '\t' {
				continue
			}
			if 'a' <= b && b <= 'z' {
				b -= 'a' - 'A'
			}
			cur.Seq = append(cur.Seq, b)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fasta: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

func parseHeader(h []byte) Record {
	h = bytes.TrimSpace(h)
	id, desc, _ := bytes.Cut(h, []byte{' '})
	return Record{ID: string(id), Description: string(bytes.TrimSpace(desc))}
}

// Concat joins the sequences of recs with a single N so that no k-mer spans
// two records.
func Concat(recs []Record) []byte {
	n := 0
	for _, r := range recs {
		n += len(r.Seq) + 1
	}
	out := make([]byte, 0, n)
	for i, r := range recs {
		if i > 0 {
			out = append(out, 'N')
		}
		out = append(out, r.Seq...)
	}
	return out
}

// ReadSequence parses r and returns the concatenated sequence of all records.
func ReadSequence(r io.Reader) ([]byte, error) {
	recs, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return Concat(recs), nil
}
