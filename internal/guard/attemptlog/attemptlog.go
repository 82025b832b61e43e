// Package attemptlog records authentication events as an append-only text
// log and mirrors them into the store for the status API.
package attemptlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/pkg/idx"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

const FileName = "attempts.log"

type Log struct {
	Mirror store.Attempts // optional
	Logger *slog.Logger

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// Open writes to <dir>/attempts.log, rotated daily. Rotated files older than
// maxAge are removed.
func Open(dir string, maxAge time.Duration, mirror store.Attempts, logger *slog.Logger) (*Log, error) {
	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(filepath.Join(dir, FileName)),
		rotatelogs.WithRotationTime(24 * time.Hour),
		rotatelogs.WithClock(rotatelogs.UTC),
	}
	if maxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(maxAge))
	}

	rl, err := rotatelogs.New(filepath.Join(dir, "attempts.%Y%m%d.log"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt log: %w", err)
	}

	l := New(rl, mirror, logger)
	l.closer = rl
	return l, nil
}

// New writes lines to w.
func New(w io.Writer, mirror store.Attempts, logger *slog.Logger) *Log {
	return &Log{Mirror: mirror, Logger: logger, w: w}
}

// Record appends rec to the log and the mirror. The returned record carries
// the assigned ID and timestamp. A mirror failure is logged, not returned:
// the text log is the record of truth.
func (l *Log) Record(ctx context.Context, rec domain.AttemptRecord) (domain.AttemptRecord, error) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if rec.ID == "" {
		rec.ID = idx.NewAt(rec.At).String()
	}

	line := FormatLine(rec)

	l.mu.Lock()
	_, err := io.WriteString(l.w, line+"\n")
	l.mu.Unlock()
	if err != nil {
		return rec, fmt.Errorf("failed to write attempt log: %w", err)
	}

	if l.Mirror != nil {
		if err := l.Mirror.RecordAttempt(ctx, rec); err != nil {
			l.Logger.Error("failed to store attempt", "kind", rec.Kind, "error", err)
		}
	}
	return rec, nil
}

func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// FormatLine renders rec as
//
//	<RFC3339> <KIND> user=<id> similarity=<0.0000> failures=<n> [details="..."]
func FormatLine(rec domain.AttemptRecord) string {
	user := rec.ProfileID
	if user == "" {
		user = "-"
	}

	var b strings.Builder
	b.WriteString(rec.At.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(string(rec.Kind))
	b.WriteString(" user=")
	b.WriteString(user)
	b.WriteString(" similarity=")
	b.WriteString(strconv.FormatFloat(rec.Similarity, 'f', 4, 64))
	b.WriteString(" failures=")
	b.WriteString(strconv.Itoa(rec.FailureCount))
	if rec.Details != "" {
		b.WriteString(" details=")
		b.WriteString(strconv.Quote(rec.Details))
	}
	return b.String()
}
