package tsv

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) ([][]string, []int) {
	t.Helper()
	var rows [][]string
	var lines []int
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, lines
		}
		require.NoError(t, err)
		rows = append(rows, row)
		lines = append(lines, r.Line())
	}
}

func TestReadSplitsOnTabsAndSkipsEmptyLines(t *testing.T) {
	r := NewReader(strings.NewReader("a\tb\t\n\n\r\n \t \nc\r\nd\te"))
	rows, lines := readAll(t, r)
	require.Equal(t, [][]string{{"a", "b", ""}, {" ", " "}, {"c"}, {"d", "e"}}, rows)
	require.Equal(t, []int{1, 4, 5, 6}, lines)
}

func TestReadKeepsQuotesInsideTheirCell(t *testing.T) {
	r := NewReader(strings.NewReader("CCL5\t\"bad\t2.0\nCXCL9\t1\t\"2\"\n"))
	rows, _ := readAll(t, r)
	require.Equal(t, [][]string{{"CCL5", "\"bad", "2.0"}, {"CXCL9", "1", "\"2\""}}, rows)
}

func TestReadLongLine(t *testing.T) {
	long := strings.Repeat("1.5\t", 100_000) + "2"
	rows, _ := readAll(t, NewReader(strings.NewReader("sample\n"+long+"\n")))
	require.Len(t, rows, 2)
	require.Len(t, rows[1], 100_001)
}

func TestReadPropagatesReaderError(t *testing.T) {
	r := NewReader(io.MultiReader(strings.NewReader("a\tb\n"), failingReader{}))
	_, err := r.Read()
	require.NoError(t, err)
	_, err = r.Read()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
