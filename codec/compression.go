package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a block compression scheme. The numeric values are
// persisted and must never be renumbered.
type Compression uint8

const (
	// None stores blocks as-is.
	None Compression = iota
	// Zstd compresses blocks with zstandard at the default level.
	Zstd
	// LZ4 compresses blocks with the LZ4 frame format.
	LZ4
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// Valid reports whether c is a known scheme.
func (c Compression) Valid() bool { return c <= LZ4 }

// ParseCompression maps a name ("none", "zstd", "lz4") to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("codec: unknown compression %q", s)
	}
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Compress returns src compressed with c.
func Compress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case None:
		return src, nil
	case Zstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("codec: unknown compression %d", uint8(c))
	}
}

// Decompress reverses Compress. maxSize bounds the decoded length; zero
// means unbounded.
func Decompress(c Compression, src []byte, maxSize int) ([]byte, error) {
	switch c {
	case None:
		return src, nil
	case Zstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd: %w", err)
		}
		if maxSize > 0 && len(out) > maxSize {
			return nil, fmt.Errorf("codec: zstd: decoded %d bytes, limit %d", len(out), maxSize)
		}
		return out, nil
	case LZ4:
		r := io.Reader(lz4.NewReader(bytes.NewReader(src)))
		if maxSize > 0 {
			r = io.LimitReader(r, int64(maxSize)+1)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4: %w", err)
		}
		if maxSize > 0 && len(out) > maxSize {
			return nil, fmt.Errorf("codec: lz4: decoded more than %d bytes", maxSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown compression %d", uint8(c))
	}
}
