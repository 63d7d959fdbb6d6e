package downloader

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ChunkSize is the size of each body read.
const ChunkSize = 8 << 10

var errLimit = errors.New("limit exceeded")

// readBounded reads r in ChunkSize pieces until EOF. A negative limit means
// unbounded. Crossing the limit returns errLimit, the count read so far, and no
// data.
func readBounded(r io.Reader, limit int64) ([]byte, int64, error) {
	var buf bytes.Buffer
	chunk := make([]byte, ChunkSize)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if limit >= 0 && total > limit {
				return nil, total, errLimit
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), total, nil
		}
		if err != nil {
			return nil, total, err
		}
	}
}

// encoded reports whether the Content-Encoding names a codec we decode.
func encoded(contentEncoding string) bool {
	switch normalizeEncoding(contentEncoding) {
	case "gzip", "x-gzip", "deflate":
		return true
	default:
		return false
	}
}

func normalizeEncoding(contentEncoding string) string {
	return strings.ToLower(strings.TrimSpace(contentEncoding))
}

// decode inflates raw according to contentEncoding, stopping at limit decoded
// bytes. Unknown encodings pass through untouched.
func decode(contentEncoding string, raw []byte, limit int64) ([]byte, error) {
	var r io.Reader
	switch normalizeEncoding(contentEncoding) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close() //nolint:errcheck // in-memory reader
		r = zr
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close() //nolint:errcheck // in-memory reader
			r = fr
		} else {
			defer zr.Close() //nolint:errcheck // in-memory reader
			r = zr
		}
	default:
		if limit >= 0 && int64(len(raw)) > limit {
			return nil, errLimit
		}
		return raw, nil
	}
	body, _, err := readBounded(r, limit)
	if err != nil {
		if errors.Is(err, errLimit) {
			return nil, err
		}
		return nil, fmt.Errorf("decode %s: %w", contentEncoding, err)
	}
	return body, nil
}
