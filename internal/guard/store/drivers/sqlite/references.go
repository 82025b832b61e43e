package sqlite

import (
	"context"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
)

type referencesRepo struct {
	db dbtx
}

func (r *referencesRepo) AddReference(ctx context.Context, ref domain.ReferenceImage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reference_images (id, profile_id, path, created_at)
		VALUES (?, ?, ?, ?)`,
		ref.ID, ref.ProfileID, ref.Path, toMillis(ref.CreatedAt),
	)
	if isConstraintViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *referencesRepo) ListReferences(ctx context.Context, profileID string) ([]domain.ReferenceImage, error) {
	// ULIDs sort by creation time
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, path, created_at
		FROM reference_images
		WHERE profile_id = ?
		ORDER BY id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReferenceImage
	for rows.Next() {
		var (
			ref       domain.ReferenceImage
			createdAt int64
		)
		if err := rows.Scan(&ref.ID, &ref.ProfileID, &ref.Path, &createdAt); err != nil {
			return nil, err
		}
		ref.CreatedAt = fromMillis(createdAt)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *referencesRepo) DeleteReference(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reference_images WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *referencesRepo) DeleteReferencesForProfile(ctx context.Context, profileID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reference_images WHERE profile_id = ?`, profileID)
	return err
}
