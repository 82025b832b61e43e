package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
)

type profilesRepo struct {
	db dbtx
}

const profileColumns = `id, display_name, role, successes, failures, avg_confidence,
	active, guest, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.UserProfile, error) {
	var (
		p                  domain.UserProfile
		role               string
		active, guest      int
		createdAt, updated int64
		deletedAt          sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.DisplayName, &role, &p.Successes, &p.Failures, &p.AvgConfidence,
		&active, &guest, &createdAt, &updated, &deletedAt)
	if err != nil {
		return domain.UserProfile{}, err
	}
	p.Role = domain.Role(role)
	p.Active = active == 1
	p.Guest = guest == 1
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updated)
	p.DeletedAt = mapNullTimePtr(deletedAt)
	return p, nil
}

func (r *profilesRepo) CreateProfile(ctx context.Context, p domain.UserProfile) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, role, successes, failures, avg_confidence,
			active, guest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DisplayName, string(p.Role), p.Successes, p.Failures, p.AvgConfidence,
		boolToInt(p.Active), boolToInt(p.Guest), toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if isConstraintViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *profilesRepo) GetProfileByID(ctx context.Context, id string) (domain.UserProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ? AND deleted_at IS NULL`, id)
	p, err := scanProfile(row)
	if err != nil {
		return domain.UserProfile{}, mapNotFound(err)
	}
	return p, nil
}

func (r *profilesRepo) GetProfileByName(ctx context.Context, name string) (domain.UserProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles
		 WHERE display_name = ? AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT 1`, name)
	p, err := scanProfile(row)
	if err != nil {
		return domain.UserProfile{}, mapNotFound(err)
	}
	return p, nil
}

func (r *profilesRepo) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *profilesRepo) UpdateStats(ctx context.Context, id string, successes, failures int, avgConfidence float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET successes = ?, failures = ?, avg_confidence = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		successes, failures, avgConfidence, toMillis(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *profilesRepo) SoftDeleteProfile(ctx context.Context, id string) error {
	now := toMillis(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET deleted_at = ?, active = 0, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *profilesRepo) CountProfiles(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
