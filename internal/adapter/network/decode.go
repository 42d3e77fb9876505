package network

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is sent on every request that does not set its own.
const acceptEncoding = "gzip, deflate, br, zstd"

var (
	// ErrResponseTooLarge is returned when a body exceeds the configured limit.
	ErrResponseTooLarge = errors.New("response body too large")
	// ErrBodyDecode is returned when a body cannot be read or decoded.
	ErrBodyDecode = errors.New("decode response body")
)

// decodeBody reads r, undoing each content coding listed in encoding (in
// reverse order of application), and fails once more than limit decoded
// bytes are produced. A limit <= 0 disables the check.
func decodeBody(r io.Reader, encoding string, limit int64) ([]byte, error) {
	codings := strings.Split(encoding, ",")
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		switch coding {
		case "", "identity":
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("%w: gzip: %w", ErrBodyDecode, err)
			}
			closers = append(closers, zr)
			r = zr
		case "deflate":
			zr, err := zlib.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("%w: deflate: %w", ErrBodyDecode, err)
			}
			closers = append(closers, zr)
			r = zr
		case "br":
			r = brotli.NewReader(r)
		case "zstd":
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("%w: zstd: %w", ErrBodyDecode, err)
			}
			closers = append(closers, zr.IOReadCloser())
			r = zr
		default:
			return nil, fmt.Errorf("%w: unsupported content encoding %q", ErrBodyDecode, coding)
		}
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyDecode, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}
	return data, nil
}
