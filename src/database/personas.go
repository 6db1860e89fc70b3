package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/token"
)

// Persona is a character profile owning a set of tokens.
type Persona struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreatePersonaRequest carries the fields of a new persona.
type CreatePersonaRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=2000"`
	Tags        []string `json:"tags" validate:"dive,required"`
}

const personaColumns = `id, name, description, tags, created_at, updated_at`

// UpdatePersonaRequest changes the fields that are set. Tags replace the
// existing list.
type UpdatePersonaRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// CreatePersona inserts a persona with default generation parameters.
// Names are unique.
func (s *Store) CreatePersona(ctx context.Context, req CreatePersonaRequest) (Persona, error) {
	var p Persona
	err := s.tm.WithRetry(ctx, nil, func(tx *sql.Tx) error {
		var err error
		p, err = createPersona(ctx, tx, s.now(), req)
		return err
	})
	if err != nil {
		return Persona{}, err
	}
	return p, nil
}

func createPersona(ctx context.Context, q querier, now time.Time, req CreatePersonaRequest) (Persona, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if err := token.ValidateStruct(req); err != nil {
		return Persona{}, err
	}

	p := Persona{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return Persona{}, fmt.Errorf("encode tags: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO personas (`+personaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, string(tags), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return Persona{}, classify("insert", "personas", err)
	}
	if err := insertGenerationParams(ctx, q, DefaultGenerationParams(p.ID)); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// UpdatePersona applies req to the persona and refreshes its update time.
func (s *Store) UpdatePersona(ctx context.Context, id string, req UpdatePersonaRequest) (Persona, error) {
	p, err := s.GetPersona(ctx, id)
	if err != nil {
		return Persona{}, err
	}

	next := CreatePersonaRequest{Name: p.Name, Description: p.Description, Tags: p.Tags}
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		next.Description = strings.TrimSpace(*req.Description)
	}
	if req.Tags != nil {
		next.Tags = *req.Tags
	}
	if err := token.ValidateStruct(next); err != nil {
		return Persona{}, err
	}
	if next.Tags == nil {
		next.Tags = []string{}
	}
	tags, err := json.Marshal(next.Tags)
	if err != nil {
		return Persona{}, fmt.Errorf("encode tags: %w", err)
	}

	p.Name, p.Description, p.Tags, p.UpdatedAt = next.Name, next.Description, next.Tags, s.now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE personas SET name = ?, description = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, string(tags), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return Persona{}, classify("update", "personas", err)
	}

	s.logger.Info("persona updated", zap.String("persona_id", p.ID))
	return p, nil
}

// SearchPersonas returns personas whose name or description contains
// query, case-insensitively, ordered by name.
func (s *Store) SearchPersonas(ctx context.Context, query string) ([]Persona, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	return listPersonas(ctx, s.db,
		`WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'`, pattern, pattern)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GetPersona loads a persona by id.
func (s *Store) GetPersona(ctx context.Context, id string) (Persona, error) {
	return getPersona(ctx, s.db, `id = ?`, id)
}

// FindPersona resolves a persona by id, falling back to its name.
func (s *Store) FindPersona(ctx context.Context, idOrName string) (Persona, error) {
	p, err := getPersona(ctx, s.db, `id = ?`, idOrName)
	if errors.Is(err, apperrors.ErrPersonaNotFound) {
		return getPersona(ctx, s.db, `name = ?`, idOrName)
	}
	return p, err
}

func getPersona(ctx context.Context, q querier, where string, arg any) (Persona, error) {
	row := q.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE `+where, arg)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Persona{}, fmt.Errorf("persona %v: %w", arg, apperrors.ErrPersonaNotFound)
	}
	if err != nil {
		return Persona{}, classify("query", "personas", err)
	}
	return p, nil
}

// ListPersonas returns every persona ordered by name.
func (s *Store) ListPersonas(ctx context.Context) ([]Persona, error) {
	return listPersonas(ctx, s.db, "")
}

func listPersonas(ctx context.Context, q querier, where string, args ...any) ([]Persona, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, classify("query", "personas", err)
	}
	defer rows.Close()

	personas := []Persona{}
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, classify("scan", "personas", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", "personas", err)
	}
	return personas, nil
}

// DeletePersona removes a persona and, by cascade, its tokens.
func (s *Store) DeletePersona(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return classify("delete", "personas", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("persona %s: %w", id, apperrors.ErrPersonaNotFound)
	}
	s.logger.Info("persona deleted", zap.String("persona_id", id))
	return nil
}

// DuplicatePersona copies a persona, its generation parameters and all its
// tokens under newName. Token display orders are preserved.
func (s *Store) DuplicatePersona(ctx context.Context, id, newName string) (Persona, error) {
	var dup Persona
	err := s.tm.WithRetry(ctx, nil, func(tx *sql.Tx) error {
		src, err := getPersona(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}

		dup, err = createPersona(ctx, tx, s.now(), CreatePersonaRequest{
			Name:        newName,
			Description: src.Description,
			Tags:        src.Tags,
		})
		if err != nil {
			return err
		}

		params, err := getGenerationParams(ctx, tx, src.ID)
		if err != nil {
			return err
		}
		params.PersonaID = dup.ID
		if err := updateGenerationParams(ctx, tx, params); err != nil {
			return err
		}

		repo := &tokenRepo{q: tx, now: s.now}
		tokens, err := repo.GetTokensByPersona(ctx, src.ID)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			if _, err := repo.insert(ctx, token.CreateRequest{
				PersonaID:     dup.ID,
				GranularityID: t.GranularityID,
				Polarity:      t.Polarity,
				Content:       t.Content,
				Weight:        t.Weight,
			}, t.DisplayOrder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Persona{}, err
	}
	return dup, nil
}

func scanPersona(row rowScanner) (Persona, error) {
	var (
		p                      Persona
		tags, created, updated string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &tags, &created, &updated); err != nil {
		return Persona{}, err
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return Persona{}, fmt.Errorf("decode tags: %w", err)
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return Persona{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return Persona{}, err
	}
	return p, nil
}
