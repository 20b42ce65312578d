package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// CharacterRepositoryPG reads characters and records preview results.
type CharacterRepositoryPG struct {
	db infra.SQLExecutor
}

// NewCharacterRepository constructs a character repository.
func NewCharacterRepository(db infra.SQLExecutor) *CharacterRepositoryPG {
	return &CharacterRepositoryPG{db: db}
}

// GetByID loads the fields used to compile consistency constraints.
func (r *CharacterRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Character, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	var (
		c               domain.Character
		personalityJSON []byte
	)
	err := r.db.QueryRow(ctx, sqlinline.QSelectCharacterByID, id).Scan(
		&c.ID,
		&c.OwnerID,
		&c.Name,
		&c.Tagline,
		&c.PhysicalTraits,
		&personalityJSON,
		&c.LockedTraits,
		&c.AvoidTraits,
		&c.ReferenceImageURL,
		&c.Seed,
		&c.Variation,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(personalityJSON) > 0 {
		if err := json.Unmarshal(personalityJSON, &c.Personality); err != nil {
			return nil, fmt.Errorf("decode personality: %w", err)
		}
	}
	return &c, nil
}

// SetPreview updates the preview derived from a preview job. A completed or
// failed preview only changes again when reset to pending.
func (r *CharacterRepositoryPG) SetPreview(ctx context.Context, id string, status domain.DerivedStatus, url, errMsg string) error {
	_, err := r.db.Exec(ctx, sqlinline.QUpdateCharacterPreview, id, string(status), url, errMsg)
	return err
}
