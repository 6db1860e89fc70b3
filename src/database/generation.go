package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/token"
)

// GenerationParams are a persona's image generation settings. An empty
// ModelID means the configured default model.
type GenerationParams struct {
	PersonaID string  `json:"persona_id" validate:"required"`
	ModelID   string  `json:"model_id" validate:"max=200"`
	Seed      int64   `json:"seed" validate:"gte=-1"`
	Steps     int     `json:"steps" validate:"gte=1,lte=150"`
	CFGScale  float64 `json:"cfg_scale" validate:"gte=0,lte=30"`
	Sampler   string  `json:"sampler,omitempty"`
	Scheduler string  `json:"scheduler,omitempty"`
}

// DefaultGenerationParams returns a random seed, 30 steps and CFG 7.
func DefaultGenerationParams(personaID string) GenerationParams {
	return GenerationParams{
		PersonaID: personaID,
		Seed:      -1,
		Steps:     30,
		CFGScale:  7.0,
	}
}

const generationColumns = `persona_id, model_id, seed, steps, cfg_scale, sampler, scheduler`

// GetGenerationParams loads the parameters of a persona.
func (s *Store) GetGenerationParams(ctx context.Context, personaID string) (GenerationParams, error) {
	return getGenerationParams(ctx, s.db, personaID)
}

// UpdateGenerationParams replaces every field of the persona's parameters.
func (s *Store) UpdateGenerationParams(ctx context.Context, params GenerationParams) error {
	params.ModelID = strings.TrimSpace(params.ModelID)
	params.Sampler = strings.TrimSpace(params.Sampler)
	params.Scheduler = strings.TrimSpace(params.Scheduler)
	if err := token.ValidateStruct(params); err != nil {
		return err
	}
	if err := updateGenerationParams(ctx, s.db, params); err != nil {
		return err
	}

	s.logger.Debug("generation params updated",
		zap.String("persona_id", params.PersonaID),
		zap.String("model_id", params.ModelID))
	return nil
}

// PersonaModel returns the model a persona counts tokens against, or
// fallback when the persona has none set.
func (s *Store) PersonaModel(ctx context.Context, personaID, fallback string) (string, error) {
	params, err := s.GetGenerationParams(ctx, personaID)
	if err != nil {
		return "", err
	}
	if params.ModelID == "" {
		return fallback, nil
	}
	return params.ModelID, nil
}

func getGenerationParams(ctx context.Context, q querier, personaID string) (GenerationParams, error) {
	var p GenerationParams
	err := q.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generation_params WHERE persona_id = ?`, personaID).
		Scan(&p.PersonaID, &p.ModelID, &p.Seed, &p.Steps, &p.CFGScale, &p.Sampler, &p.Scheduler)
	if errors.Is(err, sql.ErrNoRows) {
		return GenerationParams{}, fmt.Errorf("persona %s: %w", personaID, apperrors.ErrPersonaNotFound)
	}
	if err != nil {
		return GenerationParams{}, classify("query", "generation_params", err)
	}
	return p, nil
}

func updateGenerationParams(ctx context.Context, q querier, p GenerationParams) error {
	res, err := q.ExecContext(ctx, `
		UPDATE generation_params
		SET model_id = ?, seed = ?, steps = ?, cfg_scale = ?, sampler = ?, scheduler = ?
		WHERE persona_id = ?`,
		p.ModelID, p.Seed, p.Steps, p.CFGScale, p.Sampler, p.Scheduler, p.PersonaID)
	if err != nil {
		return classify("update", "generation_params", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("persona %s: %w", p.PersonaID, apperrors.ErrPersonaNotFound)
	}
	return nil
}

func insertGenerationParams(ctx context.Context, q querier, p GenerationParams) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO generation_params (`+generationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.PersonaID, p.ModelID, p.Seed, p.Steps, p.CFGScale, p.Sampler, p.Scheduler)
	if err != nil {
		return classify("insert", "generation_params", err)
	}
	return nil
}
