package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// FileSink writes each frame's payload to <dir>/frame_<n>.bin, where n counts
// delivered frames from zero.
type FileSink struct {
	dir  string
	next atomic.Uint64
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

// Written returns the number of frames written so far.
func (s *FileSink) Written() uint64 { return s.next.Load() }

// Consume implements Consumer.
func (s *FileSink) Consume(_ context.Context, f Frame) error {
	if f.Length < 0 || f.Length > len(f.Data) {
		return fmt.Errorf("%w: length %d exceeds mapped %d bytes", ErrFrameSize, f.Length, len(f.Data))
	}
	n := s.next.Load()
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%d.bin", n))
	if err := os.WriteFile(path, f.Data[:f.Length], 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.next.Add(1)
	return nil
}
