package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
)

type attemptsRepo struct {
	db dbtx
}

func (r *attemptsRepo) RecordAttempt(ctx context.Context, a domain.AttemptRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (id, kind, profile_id, similarity, failure_count, details, artifact_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), a.ProfileID, a.Similarity, a.FailureCount, a.Details, strings.Join(a.Artifacts, "\n"), toMillis(a.At),
	)
	if isConstraintViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *attemptsRepo) ListRecentAttempts(ctx context.Context, limit int) ([]domain.AttemptRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, profile_id, similarity, failure_count, details, artifact_path, created_at
		FROM auth_attempts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AttemptRecord
	for rows.Next() {
		var (
			a         domain.AttemptRecord
			kind      string
			artifacts string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &kind, &a.ProfileID, &a.Similarity, &a.FailureCount,
			&a.Details, &artifacts, &createdAt); err != nil {
			return nil, err
		}
		a.Kind = domain.AttemptKind(kind)
		a.Artifacts = splitArtifacts(artifacts)
		a.At = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *attemptsRepo) ListArtifactsBefore(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT artifact_path FROM auth_attempts
		WHERE created_at < ? AND artifact_path != ''
		ORDER BY created_at`, toMillis(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, err
		}
		out = append(out, splitArtifacts(joined)...)
	}
	return out, rows.Err()
}

func (r *attemptsRepo) DeleteAttemptsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_attempts WHERE created_at < ?`, toMillis(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Artifacts are stored newline separated in a single column.
func splitArtifacts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
