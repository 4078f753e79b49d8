package source

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decoder turns fixture files into rows. Fixtures may be plain JSON or
// zstd / gzip compressed JSON.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new fixture decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode decodes a fixture file body, decompressing based on the file name.
func (d *Decoder) Decode(name string, data []byte) ([]Row, error) {
	raw, err := d.decompress(name, data)
	if err != nil {
		return nil, err
	}
	return DecodeRows(raw)
}

func (d *Decoder) decompress(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".zst"):
		raw, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return raw, nil
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return raw, nil
	default:
		return data, nil
	}
}

// DecodeRows decodes a JSON array of objects. Numbers decode as float64.
func DecodeRows(data []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}
