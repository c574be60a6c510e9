package state

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// TailLines returns the last n lines of a service log, reading at most
// maxBytes from the end of the file. A partial first line is dropped.
func TailLines(path string, n int, maxBytes int64) ([]string, error) {
	if path == "" {
		return nil, errors.New("missing log path")
	}
	if n <= 0 {
		n = 20
	}
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open log")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat log")
	}
	offset := info.Size() - maxBytes
	if offset < 0 {
		offset = 0
	}
	b, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return nil, errors.Wrap(err, "read log")
	}
	if offset > 0 {
		if i := bytes.IndexByte(b, '\n'); i >= 0 && i+1 < len(b) {
			b = b[i+1:]
		}
	}

	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(b) == 0 {
		return []string{}, nil
	}
	if len(lines) > n {
		lines = append([]string{}, lines[len(lines)-n:]...)
	}
	return lines, nil
}
