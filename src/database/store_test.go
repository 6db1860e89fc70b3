package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppm/src/draft"
	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ppm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPersona(t *testing.T, s *Store, name string) Persona {
	t.Helper()
	p, err := s.CreatePersona(context.Background(), CreatePersonaRequest{Name: name, Tags: []string{"fantasy"}})
	require.NoError(t, err)
	return p
}

func TestOpenSeedsGranularityLevels(t *testing.T) {
	s := newTestStore(t)

	levels, err := s.GetGranularityLevels(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 7)

	want := token.DefaultGranularityLevels()
	for i, l := range levels {
		assert.Equal(t, want[i].ID, l.ID)
		assert.Equal(t, want[i].Name, l.Name)
		assert.Equal(t, i, l.DisplayOrder)
		assert.True(t, l.IsDefault)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ppm.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	newPersona(t, s, "Aria")
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	personas, err := s.ListPersonas(ctx)
	require.NoError(t, err)
	assert.Len(t, personas, 1)

	levels, err := s.GetGranularityLevels(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, 7)
}

func TestPersonaCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newPersona(t, s, "  Aria ")
	assert.Equal(t, "Aria", p.Name)

	got, err := s.GetPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"fantasy"}, got.Tags)

	byName, err := s.FindPersona(ctx, "Aria")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	_, err = s.CreatePersona(ctx, CreatePersonaRequest{Name: "Aria"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRecord)

	_, err = s.CreatePersona(ctx, CreatePersonaRequest{Name: "   "})
	assert.True(t, apperrors.IsValidation(err))

	newPersona(t, s, "Bran")
	list, err := s.ListPersonas(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Aria", list[0].Name)

	require.NoError(t, s.DeletePersona(ctx, p.ID))
	_, err = s.GetPersona(ctx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrPersonaNotFound)
	assert.ErrorIs(t, s.DeletePersona(ctx, p.ID), apperrors.ErrPersonaNotFound)
}

func TestCreateTokenAppendsDisplayOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	first, err := s.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Hair, Polarity: token.Positive, Content: " red hair "})
	require.NoError(t, err)
	assert.Equal(t, 0, first.DisplayOrder)
	assert.Equal(t, "red hair", first.Content)
	assert.Equal(t, token.DefaultWeight, first.Weight)

	second, err := s.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Negative, Content: "blurry", Weight: 1.4})
	require.NoError(t, err)
	assert.Equal(t, 1, second.DisplayOrder)

	got, err := s.GetToken(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, token.Negative, got.Polarity)
	assert.Equal(t, 1.4, got.Weight)
	assert.True(t, got.CreatedAt.Equal(second.CreatedAt))
}

func TestCreateTokenErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")
	req := token.CreateRequest{PersonaID: p.ID, GranularityID: token.Hair, Polarity: token.Positive, Content: "red hair"}

	_, err := s.CreateToken(ctx, req)
	require.NoError(t, err)

	_, err = s.CreateToken(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRecord)

	var dbErr *apperrors.DatabaseError
	assert.ErrorAs(t, err, &dbErr)

	req.Content = "other"
	req.PersonaID = "missing"
	_, err = s.CreateToken(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrPersonaNotFound)

	req.PersonaID = p.ID
	req.Weight = 3
	_, err = s.CreateToken(ctx, req)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCreateTokensBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	_, err := s.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Style, Polarity: token.Positive, Content: "masterpiece"})
	require.NoError(t, err)

	created, err := s.CreateTokensBatch(ctx, token.BatchCreateRequest{
		PersonaID:     p.ID,
		GranularityID: token.Face,
		Polarity:      token.Positive,
		Contents:      "blue eyes, , freckles ,",
		Weight:        1.2,
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, 1, created[0].DisplayOrder)
	assert.Equal(t, 2, created[1].DisplayOrder)
	assert.Equal(t, "freckles", created[1].Content)

	_, err = s.CreateTokensBatch(ctx, token.BatchCreateRequest{
		PersonaID:     p.ID,
		GranularityID: token.Face,
		Polarity:      token.Positive,
		Contents:      "mole, blue eyes",
	})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRecord)

	tokens, err := s.GetTokensByPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, tokens, 3, "failed batch leaves nothing behind")
}

func TestUpdateAndDeleteToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	tok, err := s.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Content: "scar"})
	require.NoError(t, err)

	updated, err := s.UpdateToken(ctx, tok.ID, token.FieldChanges{Weight: token.Ptr(1.3), Polarity: token.Ptr(token.Negative)})
	require.NoError(t, err)
	assert.Equal(t, 1.3, updated.Weight)
	assert.Equal(t, token.Negative, updated.Polarity)
	assert.Equal(t, "scar", updated.Content)

	got, err := s.GetToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Weight, got.Weight)
	assert.Equal(t, updated.Polarity, got.Polarity)

	_, err = s.UpdateToken(ctx, "missing", token.FieldChanges{Weight: token.Ptr(1.0)})
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)

	require.NoError(t, s.DeleteToken(ctx, tok.ID))
	assert.ErrorIs(t, s.DeleteToken(ctx, tok.ID), apperrors.ErrTokenNotFound)
}

func TestReorderTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")
	other := newPersona(t, s, "Bran")

	created, err := s.CreateTokensBatch(ctx, token.BatchCreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Contents: "a, b, c"})
	require.NoError(t, err)
	foreign, err := s.CreateToken(ctx, token.CreateRequest{PersonaID: other.ID, GranularityID: token.Face, Polarity: token.Positive, Content: "x"})
	require.NoError(t, err)

	batch := []ports.ReorderEntry{
		{TokenID: created[2].ID, DisplayOrder: 0},
		{TokenID: created[0].ID, DisplayOrder: 1},
		{TokenID: created[1].ID, DisplayOrder: 2},
	}
	require.NoError(t, s.ReorderTokens(ctx, p.ID, batch))

	tokens, err := s.GetTokensByPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", tokens[0].Content)
	assert.Equal(t, "a", tokens[1].Content)
	assert.Equal(t, "b", tokens[2].Content)

	err = s.ReorderTokens(ctx, p.ID, []ports.ReorderEntry{
		{TokenID: created[0].ID, DisplayOrder: 5},
		{TokenID: foreign.ID, DisplayOrder: 0},
	})
	assert.True(t, apperrors.IsValidation(err))

	got, err := s.GetToken(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DisplayOrder, "rejected batch applies nothing")
}

func TestWithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx ports.TokenGateway) error {
		_, err := tx.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Content: "scar"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	tokens, err := s.GetTokensByPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestUpdatePersona(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")
	newPersona(t, s, "Bran")

	name, desc := "  Aria Vale ", "elven ranger"
	got, err := s.UpdatePersona(ctx, p.ID, UpdatePersonaRequest{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Aria Vale", got.Name)
	assert.Equal(t, "elven ranger", got.Description)
	assert.Equal(t, []string{"fantasy"}, got.Tags)
	assert.False(t, got.UpdatedAt.Before(p.UpdatedAt))

	tags := []string{"ranger", "elf"}
	got, err = s.UpdatePersona(ctx, p.ID, UpdatePersonaRequest{Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "Aria Vale", got.Name)

	stored, err := s.GetPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, tags, stored.Tags)
	assert.Equal(t, "elven ranger", stored.Description)

	tests := []struct {
		name  string
		id    string
		req   UpdatePersonaRequest
		check func(error) bool
	}{
		{"name taken", p.ID, UpdatePersonaRequest{Name: token.Ptr("Bran")}, func(err error) bool { return errors.Is(err, apperrors.ErrDuplicateRecord) }},
		{"blank name", p.ID, UpdatePersonaRequest{Name: token.Ptr("  ")}, apperrors.IsValidation},
		{"missing persona", "nope", UpdatePersonaRequest{Name: token.Ptr("Cai")}, func(err error) bool { return errors.Is(err, apperrors.ErrPersonaNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UpdatePersona(ctx, tt.id, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	stored, err = s.GetPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aria Vale", stored.Name)
}

func TestSearchPersonas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreatePersona(ctx, CreatePersonaRequest{Name: "Aria", Description: "elven ranger"})
	require.NoError(t, err)
	_, err = s.CreatePersona(ctx, CreatePersonaRequest{Name: "Bran", Description: "dwarf smith, 100% grumpy"})
	require.NoError(t, err)
	_, err = s.CreatePersona(ctx, CreatePersonaRequest{Name: "Ranger_Cai"})
	require.NoError(t, err)

	names := func(ps []Persona) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.Name
		}
		return out
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"RANGER", []string{"Aria", "Ranger_Cai"}},
		{"smith", []string{"Bran"}},
		{"%", []string{"Bran"}},
		{"r_c", []string{"Ranger_Cai"}},
		{"", []string{"Aria", "Bran", "Ranger_Cai"}},
		{"ogre", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := s.SearchPersonas(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestGenerationParams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	params, err := s.GetGenerationParams(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerationParams(p.ID), params)

	model, err := s.PersonaModel(ctx, p.ID, "fallback/model")
	require.NoError(t, err)
	assert.Equal(t, "fallback/model", model)

	params.ModelID = " Kwai-Kolors/Kolors "
	params.Steps = 40
	params.Sampler = "euler"
	require.NoError(t, s.UpdateGenerationParams(ctx, params))

	got, err := s.GetGenerationParams(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kwai-Kolors/Kolors", got.ModelID)
	assert.Equal(t, 40, got.Steps)
	assert.Equal(t, "euler", got.Sampler)

	model, err = s.PersonaModel(ctx, p.ID, "fallback/model")
	require.NoError(t, err)
	assert.Equal(t, "Kwai-Kolors/Kolors", model)

	bad := got
	bad.Steps = 0
	assert.True(t, apperrors.IsValidation(s.UpdateGenerationParams(ctx, bad)))
	bad = got
	bad.CFGScale = 31
	assert.True(t, apperrors.IsValidation(s.UpdateGenerationParams(ctx, bad)))

	missing := DefaultGenerationParams("nope")
	assert.ErrorIs(t, s.UpdateGenerationParams(ctx, missing), apperrors.ErrPersonaNotFound)
	_, err = s.GetGenerationParams(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrPersonaNotFound)

	dup, err := s.DuplicatePersona(ctx, p.ID, "Aria (copy)")
	require.NoError(t, err)
	copied, err := s.GetGenerationParams(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, dup.ID, copied.PersonaID)
	assert.Equal(t, "Kwai-Kolors/Kolors", copied.ModelID)
	assert.Equal(t, 40, copied.Steps)

	require.NoError(t, s.DeletePersona(ctx, p.ID))
	_, err = s.GetGenerationParams(ctx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrPersonaNotFound)
}

func TestMigrateFromV1AddsGenerationParams(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ppm.db")

	db, err := openFile(ctx, path)
	require.NoError(t, err)
	for _, stmt := range schemaV1 {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE schema_version (version INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (1)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO personas (id, name, description, tags, created_at, updated_at)
		VALUES ('p-old', 'Old', '', '[]', '2025-01-01T00:00:00Z', '2025-01-01T00:00:00Z')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	version, err := currentVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	params, err := s.GetGenerationParams(ctx, "p-old")
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerationParams("p-old"), params)
}

func TestDuplicatePersona(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	_, err := s.CreateTokensBatch(ctx, token.BatchCreateRequest{PersonaID: p.ID, GranularityID: token.Hair, Polarity: token.Positive, Contents: "red hair, braid", Weight: 1.1})
	require.NoError(t, err)

	dup, err := s.DuplicatePersona(ctx, p.ID, "Aria (copy)")
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, dup.ID)
	assert.Equal(t, p.Tags, dup.Tags)

	tokens, err := s.GetTokensByPersona(ctx, dup.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "red hair", tokens[0].Content)
	assert.Equal(t, 1.1, tokens[1].Weight)

	_, err = s.DuplicatePersona(ctx, p.ID, "Aria (copy)")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRecord)
}

func TestDeletePersonaCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	tok, err := s.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Content: "scar"})
	require.NoError(t, err)
	require.NoError(t, s.DeletePersona(ctx, p.ID))

	_, err = s.GetToken(ctx, tok.ID)
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	p := newPersona(t, src, "Aria")
	_, err := src.CreateToken(ctx, token.CreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Content: "scar"})
	require.NoError(t, err)

	backup := filepath.Join(t.TempDir(), "backup", "ppm.db")
	require.NoError(t, src.Export(ctx, backup))
	assert.True(t, apperrors.IsValidation(src.Export(ctx, src.Path())))

	dest := newTestStore(t)
	newPersona(t, dest, "Someone else")

	info, err := dest.InspectImport(ctx, backup)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, info.SchemaVersion)
	assert.Equal(t, 1, info.Personas)

	_, err = dest.Import(ctx, backup)
	require.NoError(t, err)

	personas, err := dest.ListPersonas(ctx)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "Aria", personas[0].Name)

	tokens, err := dest.GetTokensByPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestInspectImportRejectsForeignDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "other.db")

	db, err := openFile(ctx, path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE notes (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := newTestStore(t)
	_, err = s.InspectImport(ctx, path)
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleSchema)

	_, err = s.Import(ctx, path)
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleSchema)
}

func TestInspectImportRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	newer := newTestStore(t)
	_, err := newer.db.ExecContext(ctx, `UPDATE schema_version SET version = ?`, SchemaVersion+1)
	require.NoError(t, err)

	_, err = s.InspectImport(ctx, newer.Path())
	assert.ErrorIs(t, err, apperrors.ErrIncompatibleSchema)
}

func TestDraftCommitAgainstStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	seed, err := s.CreateTokensBatch(ctx, token.BatchCreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Contents: "blue eyes, scar, mole"})
	require.NoError(t, err)

	session := draft.New(p.ID, s)
	require.NoError(t, session.Start(seed))
	require.NoError(t, session.StageDelete(seed[2].ID))
	require.NoError(t, session.StageUpdate(seed[1].ID, token.FieldChanges{Weight: token.Ptr(1.3)}))
	_, err = session.StageBatchCreate(token.Hair, token.Positive, "red hair, mole", nil)
	require.NoError(t, err)

	fresh, err := session.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 4)
	for _, tok := range fresh {
		assert.False(t, draft.IsTempID(tok.ID))
	}

	got, err := s.GetToken(ctx, seed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1.3, got.Weight)
}

func TestDraftCommitRollsBackAsOneTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newPersona(t, s, "Aria")

	seed, err := s.CreateTokensBatch(ctx, token.BatchCreateRequest{PersonaID: p.ID, GranularityID: token.Face, Polarity: token.Positive, Contents: "blue eyes, scar"})
	require.NoError(t, err)

	session := draft.New(p.ID, s)
	require.NoError(t, session.Start(seed))
	require.NoError(t, session.StageDelete(seed[0].ID))
	// collides with the surviving "scar" token
	_, err = session.StageBatchCreate(token.Face, token.Positive, "scar", nil)
	require.NoError(t, err)

	_, err = session.Commit(ctx)
	require.ErrorIs(t, err, apperrors.ErrDuplicateRecord)
	assert.True(t, session.Active())

	tokens, err := s.GetTokensByPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, tokens, 2, "the delete was rolled back with the failed create")
	for _, op := range session.Pending() {
		assert.False(t, op.Done())
	}
}
