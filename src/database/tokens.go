package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

const tokenColumns = `id, persona_id, granularity_id, polarity, content, weight, display_order, created_at, updated_at`

// tokenRepo runs token queries on a database or a transaction.
type tokenRepo struct {
	q   querier
	now func() time.Time
}

// CreateToken inserts a token after every existing token of the persona.
func (r *tokenRepo) CreateToken(ctx context.Context, req token.CreateRequest) (token.Token, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return token.Token{}, err
	}

	order, err := r.nextDisplayOrder(ctx, req.PersonaID)
	if err != nil {
		return token.Token{}, err
	}
	return r.insert(ctx, req, order)
}

func (r *tokenRepo) insert(ctx context.Context, req token.CreateRequest, order int) (token.Token, error) {
	now := r.now()
	t := token.Token{
		ID:            uuid.NewString(),
		PersonaID:     req.PersonaID,
		GranularityID: req.GranularityID,
		Polarity:      req.Polarity,
		Content:       req.Content,
		Weight:        req.Weight,
		DisplayOrder:  order,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PersonaID, t.GranularityID, string(t.Polarity), t.Content, t.Weight,
		t.DisplayOrder, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return token.Token{}, classify("insert", "tokens", err)
	}
	return t, nil
}

// createBatch inserts one token per content with sequential display orders.
// Blank contents are skipped.
func (r *tokenRepo) createBatch(ctx context.Context, req token.BatchCreateRequest) ([]token.Token, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order, err := r.nextDisplayOrder(ctx, req.PersonaID)
	if err != nil {
		return nil, err
	}

	var created []token.Token
	for _, content := range token.ParseContents(req.Contents) {
		t, err := r.insert(ctx, token.CreateRequest{
			PersonaID:     req.PersonaID,
			GranularityID: req.GranularityID,
			Polarity:      req.Polarity,
			Content:       content,
			Weight:        req.Weight,
		}, order)
		if err != nil {
			return nil, err
		}
		created = append(created, t)
		order++
	}
	return created, nil
}

func (r *tokenRepo) nextDisplayOrder(ctx context.Context, personaID string) (int, error) {
	var next int
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(display_order), -1) + 1 FROM tokens WHERE persona_id = ?`,
		personaID).Scan(&next)
	if err != nil {
		return 0, classify("query", "tokens", err)
	}
	return next, nil
}

// GetToken loads one token.
func (r *tokenRepo) GetToken(ctx context.Context, id string) (token.Token, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, id)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Token{}, fmt.Errorf("token %s: %w", id, apperrors.ErrTokenNotFound)
	}
	if err != nil {
		return token.Token{}, classify("query", "tokens", err)
	}
	return t, nil
}

// UpdateToken applies changes to the stored token.
func (r *tokenRepo) UpdateToken(ctx context.Context, id string, changes token.FieldChanges) (token.Token, error) {
	if err := changes.Validate(); err != nil {
		return token.Token{}, err
	}

	t, err := r.GetToken(ctx, id)
	if err != nil {
		return token.Token{}, err
	}
	t.Apply(changes)
	t.UpdatedAt = r.now()

	_, err = r.q.ExecContext(ctx, `
		UPDATE tokens
		SET content = ?, weight = ?, granularity_id = ?, polarity = ?, updated_at = ?
		WHERE id = ?`,
		t.Content, t.Weight, t.GranularityID, string(t.Polarity), formatTime(t.UpdatedAt), id)
	if err != nil {
		return token.Token{}, classify("update", "tokens", err)
	}
	return t, nil
}

// DeleteToken removes a token.
func (r *tokenRepo) DeleteToken(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return classify("delete", "tokens", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("token %s: %w", id, apperrors.ErrTokenNotFound)
	}
	return nil
}

// GetTokensByPersona lists a persona's tokens by display order.
func (r *tokenRepo) GetTokensByPersona(ctx context.Context, personaID string) ([]token.Token, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE persona_id = ?
		ORDER BY display_order, id`, personaID)
	if err != nil {
		return nil, classify("query", "tokens", err)
	}
	defer rows.Close()

	tokens := []token.Token{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, classify("scan", "tokens", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", "tokens", err)
	}
	return tokens, nil
}

// reorder sets display orders after checking every token belongs to personaID.
func (r *tokenRepo) reorder(ctx context.Context, personaID string, batch []ports.ReorderEntry) error {
	for _, e := range batch {
		var owner string
		err := r.q.QueryRowContext(ctx, `SELECT persona_id FROM tokens WHERE id = ?`, e.TokenID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("token %s: %w", e.TokenID, apperrors.ErrTokenNotFound)
		}
		if err != nil {
			return classify("query", "tokens", err)
		}
		if owner != personaID {
			return apperrors.NewValidationError("token_id", e.TokenID,
				fmt.Sprintf("does not belong to persona %s", personaID))
		}
	}

	now := formatTime(r.now())
	for _, e := range batch {
		if _, err := r.q.ExecContext(ctx,
			`UPDATE tokens SET display_order = ?, updated_at = ? WHERE id = ?`,
			e.DisplayOrder, now, e.TokenID); err != nil {
			return classify("update", "tokens", err)
		}
	}
	return nil
}

func scanToken(row rowScanner) (token.Token, error) {
	var (
		t                token.Token
		polarity         string
		weight           sql.NullFloat64
		created, updated string
	)
	if err := row.Scan(&t.ID, &t.PersonaID, &t.GranularityID, &polarity, &t.Content,
		&weight, &t.DisplayOrder, &created, &updated); err != nil {
		return token.Token{}, err
	}

	p, err := token.ParsePolarity(polarity)
	if err != nil {
		p = token.Positive
	}
	t.Polarity = p
	t.Weight = token.DefaultWeight
	if weight.Valid {
		t.Weight = weight.Float64
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return token.Token{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return token.Token{}, err
	}
	return t, nil
}

// Token operations on the store.

func (s *Store) tokens() *tokenRepo {
	return &tokenRepo{q: s.db, now: s.now}
}

func (s *Store) CreateToken(ctx context.Context, req token.CreateRequest) (token.Token, error) {
	return s.tokens().CreateToken(ctx, req)
}

// CreateTokensBatch creates every non-blank comma separated content in one
// transaction.
func (s *Store) CreateTokensBatch(ctx context.Context, req token.BatchCreateRequest) ([]token.Token, error) {
	var created []token.Token
	err := s.tm.WithRetry(ctx, nil, func(tx *sql.Tx) error {
		var err error
		created, err = (&tokenRepo{q: tx, now: s.now}).createBatch(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created tokens", zap.Int("count", len(created)))
	return created, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (token.Token, error) {
	return s.tokens().GetToken(ctx, id)
}

func (s *Store) UpdateToken(ctx context.Context, id string, changes token.FieldChanges) (token.Token, error) {
	return s.tokens().UpdateToken(ctx, id, changes)
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	return s.tokens().DeleteToken(ctx, id)
}

func (s *Store) GetTokensByPersona(ctx context.Context, personaID string) ([]token.Token, error) {
	return s.tokens().GetTokensByPersona(ctx, personaID)
}

// ReorderTokens applies the batch atomically.
func (s *Store) ReorderTokens(ctx context.Context, personaID string, batch []ports.ReorderEntry) error {
	return s.tm.WithRetry(ctx, nil, func(tx *sql.Tx) error {
		return (&tokenRepo{q: tx, now: s.now}).reorder(ctx, personaID, batch)
	})
}

// WithinTx runs fn with a gateway bound to one transaction; an error from
// fn rolls back every call it made.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ports.TokenGateway) error) error {
	return s.tm.WithRetry(ctx, nil, func(tx *sql.Tx) error {
		return fn(&tokenRepo{q: tx, now: s.now})
	})
}

var (
	_ ports.TxTokenGateway = (*Store)(nil)
	_ ports.Reorderer      = (*Store)(nil)
	_ ports.TokenGateway   = (*tokenRepo)(nil)
)
