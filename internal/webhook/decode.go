package webhook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

// ErrBodyTooLarge is returned when the decoded body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("webhook body exceeds size limit")

// ReadBody reads r and undoes the Content-Encoding. The signature is computed over the
// decoded bytes, so decoding happens before verification.
func ReadBody(r io.Reader, contentEncoding string, limit int64) ([]byte, error) {
	raw, err := readLimited(r, limit)
	if err != nil {
		return nil, err
	}
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch encoding {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		reader, errReader := gzip.NewReader(bytes.NewReader(raw))
		if errReader != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", errReader)
		}
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("webhook: failed to close gzip reader")
			}
		}()
		return readLimited(reader, limit)
	case "br":
		return readLimited(brotli.NewReader(bytes.NewReader(raw)), limit)
	case "zstd":
		decoder, errDecoder := zstd.NewReader(bytes.NewReader(raw))
		if errDecoder != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", errDecoder)
		}
		defer decoder.Close()
		return readLimited(decoder, limit)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
