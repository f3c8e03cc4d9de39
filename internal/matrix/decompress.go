// Package matrix reads gzip-compressed, tab-delimited gene expression
// matrices into per-patient records.
package matrix

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	gzip "github.com/klauspost/pgzip"
)

var gzipMagic = [2]byte{0x1f, 0x8b}

// NewDecompressor returns a reader over the decompressed text of r. Input that
// does not start with the gzip magic bytes is passed through unchanged.
// Closing the returned reader does not close r.
func NewDecompressor(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sniff stream: %w", err)
	}
	if len(head) == 2 && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, nil
	}
	return io.NopCloser(br), nil
}
