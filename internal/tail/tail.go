// Package tail reads the end of a job's live worker log.
package tail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const chunkSize = 4096

// Reader resolves job logs under a root shared with the manager. Each job
// writes to <root>/<name>/latest.
type Reader struct {
	root string
}

func New(root string) *Reader {
	return &Reader{root: root}
}

func (r *Reader) Path(name string) string {
	return filepath.Join(r.root, name, "latest")
}

// Lines returns up to n trailing lines of the job's log. A missing log is
// not an error: it yields no lines.
func (r *Reader) Lines(name string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(r.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log: %w", err)
	}

	data, err := readTail(f, info.Size(), n)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// readTail reads backwards from the end until it holds more than n
// newlines or reaches the start of the file.
func readTail(f io.ReaderAt, size int64, n int) ([]byte, error) {
	var buf []byte
	offset := size

	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(chunkSize)
		if offset < step {
			step = offset
		}
		offset -= step

		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	return buf, nil
}
