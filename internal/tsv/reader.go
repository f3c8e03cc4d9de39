// Package tsv reads tab-separated tables line by line. Fields are split on
// every tab with no quoting rules, so a stray quote character stays inside
// its own cell.
package tsv

import (
	"bufio"
	"io"
	"strings"
)

// MaxLineSize bounds a single line. Expression matrices carry one column per
// patient, so header and data lines can be several megabytes.
const MaxLineSize = 64 * 1024 * 1024

// Reader yields the fields of each non-empty line.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineSize)
	return &Reader{sc: sc}
}

// Read returns the fields of the next non-empty line. A trailing carriage
// return is dropped first; whitespace-only lines are returned as fields. It
// returns io.EOF after the last line.
func (r *Reader) Read() ([]string, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSuffix(r.sc.Text(), "\r")
		if text == "" {
			continue
		}
		return strings.Split(text, "\t"), nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Line is the 1-based number of the line last returned by Read.
func (r *Reader) Line() int { return r.line }
