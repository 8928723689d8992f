package buildlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// Chunk is a batch of complete lines and the offset just past them.
type Chunk struct {
	Lines  []string
	Offset int64
}

// Last returns up to n trailing lines of path. A missing file yields an
// empty chunk at offset zero.
func Last(path string, n int) (Chunk, error) {
	f, err := open(path)
	if f == nil || err != nil {
		return Chunk{}, err
	}
	defer f.Close()

	if n <= 0 {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return Chunk{}, fmt.Errorf("seek build log: %w", err)
		}
		return Chunk{Offset: end}, nil
	}

	ring := make([]string, 0, n)
	var start int
	offset, err := scanLines(f, func(line string) {
		if len(ring) < n {
			ring = append(ring, line)
			return
		}
		ring[start] = line
		start = (start + 1) % n
	})
	if err != nil {
		return Chunk{}, err
	}
	lines := make([]string, 0, len(ring))
	lines = append(lines, ring[start:]...)
	lines = append(lines, ring[:start]...)
	return Chunk{Lines: lines, Offset: offset}, nil
}

// ReadFrom returns the complete lines written after offset. A partially
// written last line is left for the next read. An offset past the end, as
// after truncation, restarts from the beginning.
func ReadFrom(path string, offset int64) (Chunk, error) {
	f, err := open(path)
	if f == nil || err != nil {
		return Chunk{Offset: offset}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("stat build log: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("seek build log: %w", err)
	}
	var lines []string
	read, err := scanLines(f, func(line string) { lines = append(lines, line) })
	if err != nil {
		return Chunk{Offset: offset}, err
	}
	return Chunk{Lines: lines, Offset: offset + read}, nil
}

// Follow emits lines appended after offset until done reports true or ctx
// ends. Lines written before done flips are still delivered.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, done func() bool, emit func(string) error) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		finished := done != nil && done()
		chunk, err := ReadFrom(path, offset)
		if err != nil {
			return err
		}
		offset = chunk.Offset
		for _, line := range chunk.Lines {
			if err := emit(line); err != nil {
				return err
			}
		}
		if finished {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open build log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat build log: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("build log %q is a directory", path)
	}
	return f, nil
}

// scanLines calls fn for each newline-terminated line of r and returns the
// number of bytes consumed.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read build log: %w", err)
		}
		consumed += int64(len(line))
		line = line[:len(line)-1]
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(line)
	}
}
