package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/jonboulle/clockwork"
)

// DirSource replays the JPEG and PNG files of a directory in lexical order.
// It is used for headless runs and tests.
type DirSource struct {
	Loop  bool
	Clock clockwork.Clock

	mu     sync.Mutex
	files  []string
	next   int
	closed bool
}

func OpenDir(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{Loop: loop, Clock: clockwork.NewRealClock(), files: files}, nil
}

func (s *DirSource) Read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.next >= len(s.files) {
		if !s.Loop {
			s.mu.Unlock()
			return nil, ErrNoFrame
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	img, err := vision.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoFrame, filepath.Base(path), err)
	}
	return NewFrame(img, s.now(), nil), nil
}

func (s *DirSource) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
