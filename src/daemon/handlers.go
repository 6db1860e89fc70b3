package daemon

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"ppm/src/composer"
	"ppm/src/database"
	"ppm/src/draft"
	"ppm/src/reorder"
	"ppm/src/token"
	"ppm/src/tokenizer"
)

// PersonaParams selects a persona by id or name.
type PersonaParams struct {
	Persona string `json:"persona"`
}

type PersonaUpdateParams struct {
	Persona string `json:"persona"`
	database.UpdatePersonaRequest
}

type SearchParams struct {
	Query string `json:"query"`
}

// ParamsUpdate changes the generation parameters that are set.
type ParamsUpdate struct {
	Persona   string   `json:"persona"`
	ModelID   *string  `json:"model_id,omitempty"`
	Seed      *int64   `json:"seed,omitempty"`
	Steps     *int     `json:"steps,omitempty"`
	CFGScale  *float64 `json:"cfg_scale,omitempty"`
	Sampler   *string  `json:"sampler,omitempty"`
	Scheduler *string  `json:"scheduler,omitempty"`
}

type DraftParams struct {
	PersonaID string `json:"persona_id"`
}

type StageCreateParams struct {
	PersonaID     string   `json:"persona_id"`
	GranularityID string   `json:"granularity_id"`
	Polarity      string   `json:"polarity"`
	Contents      string   `json:"contents"`
	Weight        *float64 `json:"weight,omitempty"`
}

type StageUpdateParams struct {
	PersonaID string             `json:"persona_id"`
	TokenID   string             `json:"token_id"`
	Changes   token.FieldChanges `json:"changes"`
}

type StageDeleteParams struct {
	PersonaID string `json:"persona_id"`
	TokenID   string `json:"token_id"`
}

// ComposeOverrides replaces individual configured composition settings.
type ComposeOverrides struct {
	IncludeWeights   *bool    `json:"include_weights,omitempty"`
	Separator        *string  `json:"separator,omitempty"`
	GranularityOrder []string `json:"granularity_order,omitempty"`
	AdhocPositive    string   `json:"adhoc_positive,omitempty"`
	AdhocNegative    string   `json:"adhoc_negative,omitempty"`
	AdhocPosition    string   `json:"adhoc_position,omitempty"`
}

type ComposeParams struct {
	Persona string            `json:"persona"`
	Draft   bool              `json:"draft,omitempty"`
	ModelID string            `json:"model_id,omitempty"`
	Options *ComposeOverrides `json:"options,omitempty"`
}

// CountParams counts against ModelID, else the persona's model, else the
// configured default.
type CountParams struct {
	Text    string `json:"text"`
	Persona string `json:"persona,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

// ReorderParams moves one token (From/To) or sets the full order of a
// polarity group (Order).
type ReorderParams struct {
	Persona  string   `json:"persona"`
	Polarity string   `json:"polarity"`
	Order    []string `json:"order,omitempty"`
	From     *int     `json:"from,omitempty"`
	To       *int     `json:"to,omitempty"`
}

// DraftView is the state of a draft as returned to clients.
type DraftView struct {
	PersonaID  string            `json:"persona_id"`
	Active     bool              `json:"active"`
	Tokens     []token.Token     `json:"tokens"`
	Pending    []draft.Operation `json:"pending"`
	HasChanges bool              `json:"has_changes"`
	Counts     *LiveCounts       `json:"counts,omitempty"`
}

type ComposeResult struct {
	Prompt   composer.ComposedPrompt `json:"prompt"`
	Positive tokenizer.TokenCount    `json:"positive"`
	Negative tokenizer.TokenCount    `json:"negative"`
}

type StatusResult struct {
	PID          int            `json:"pid"`
	Uptime       string         `json:"uptime"`
	Socket       string         `json:"socket"`
	Database     string         `json:"database"`
	DraftPersona string         `json:"draft_persona,omitempty"`
	Pending      int            `json:"pending"`
	DefaultModel string         `json:"default_model"`
	Calls        map[string]int `json:"calls"`
}

func (s *Server) routeMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "persona.list":
		return s.store.ListPersonas(ctx)
	case "persona.search":
		return s.handlePersonaSearch(ctx, params)
	case "persona.update":
		return s.handlePersonaUpdate(ctx, params)
	case "persona.params":
		return s.handlePersonaParams(ctx, params)
	case "persona.update_params":
		return s.handleUpdateParams(ctx, params)
	case "tokens.list":
		return s.handleListTokens(ctx, params)
	case "tokens.count":
		return s.handleCount(ctx, params)
	case "tokens.reorder":
		return s.handleReorder(ctx, params)
	case "draft.start":
		return s.handleDraftStart(ctx, params)
	case "draft.stage_batch_create":
		return s.handleStageCreate(params)
	case "draft.stage_update":
		return s.handleStageUpdate(params)
	case "draft.stage_delete":
		return s.handleStageDelete(params)
	case "draft.view":
		return s.handleDraftView(params)
	case "draft.commit":
		return s.handleDraftCommit(ctx, params)
	case "draft.discard":
		return s.handleDraftDiscard(params)
	case "prompt.compose":
		return s.handleCompose(ctx, params)
	case "models.list":
		return tokenizer.KnownModels(), nil
	case "status.get":
		return s.handleStatus(), nil
	default:
		return nil, &RPCError{Code: -32601, Message: "Method not found"}
	}
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return &RPCError{Code: -32602, Message: "Invalid params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: -32602, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func (s *Server) handleListTokens(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PersonaParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}
	tokens, err := s.store.GetTokensByPersona(ctx, persona.ID)
	if err != nil {
		return nil, err
	}
	return token.SortForDisplay(tokens, s.levels), nil
}

func (s *Server) handlePersonaSearch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p SearchParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return s.store.SearchPersonas(ctx, p.Query)
}

func (s *Server) handlePersonaUpdate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PersonaUpdateParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}
	return s.store.UpdatePersona(ctx, persona.ID, p.UpdatePersonaRequest)
}

func (s *Server) handlePersonaParams(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PersonaParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}
	return s.store.GetGenerationParams(ctx, persona.ID)
}

func (s *Server) handleUpdateParams(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ParamsUpdate
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}
	gp, err := s.store.GetGenerationParams(ctx, persona.ID)
	if err != nil {
		return nil, err
	}

	if p.ModelID != nil {
		gp.ModelID = *p.ModelID
	}
	if p.Seed != nil {
		gp.Seed = *p.Seed
	}
	if p.Steps != nil {
		gp.Steps = *p.Steps
	}
	if p.CFGScale != nil {
		gp.CFGScale = *p.CFGScale
	}
	if p.Sampler != nil {
		gp.Sampler = *p.Sampler
	}
	if p.Scheduler != nil {
		gp.Scheduler = *p.Scheduler
	}
	if err := s.store.UpdateGenerationParams(ctx, gp); err != nil {
		return nil, err
	}
	return s.store.GetGenerationParams(ctx, persona.ID)
}

func (s *Server) handleCount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	modelID := p.ModelID
	if modelID == "" && p.Persona != "" {
		persona, err := s.store.FindPersona(ctx, p.Persona)
		if err != nil {
			return nil, err
		}
		if modelID, err = s.modelFor(ctx, persona.ID, ""); err != nil {
			return nil, err
		}
	}
	return s.counter.CountTokens(ctx, p.Text, s.defaultModel(modelID))
}

func (s *Server) handleReorder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ReorderParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	polarity, err := token.ParsePolarity(p.Polarity)
	if err != nil {
		return nil, err
	}
	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}
	if _, err := s.drafts.ActiveFor(persona.ID); err == nil {
		return nil, &RPCError{Code: CodeConflict, Message: "draft in progress for persona; commit or discard it first"}
	}

	current, err := s.store.GetTokensByPersona(ctx, persona.ID)
	if err != nil {
		return nil, err
	}

	order := p.Order
	if p.From != nil && p.To != nil {
		order, err = reorder.Move(current, polarity, *p.From, *p.To)
		if err != nil {
			return nil, err
		}
	} else if len(order) == 0 {
		return nil, &RPCError{Code: -32602, Message: "Invalid params", Data: "either order or from/to is required"}
	}

	tokens, err := s.reconciler.Reorder(ctx, persona.ID, polarity, current, order)
	if err != nil {
		return nil, err
	}
	return token.SortForDisplay(tokens, s.levels), nil
}

func (s *Server) handleDraftStart(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PersonaParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.store.GetTokensByPersona(ctx, persona.ID)
	if err != nil {
		return nil, err
	}

	session, err := s.drafts.Open(persona.ID, snapshot)
	if err != nil {
		return nil, err
	}
	s.logger.Info("draft opened", zap.String("persona_id", persona.ID), zap.Int("tokens", len(snapshot)))
	s.scheduleRecount(session)
	return s.view(session), nil
}

func (s *Server) handleStageCreate(params json.RawMessage) (interface{}, error) {
	var p StageCreateParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	session, err := s.drafts.ActiveFor(p.PersonaID)
	if err != nil {
		return nil, err
	}
	polarity, err := token.ParsePolarity(p.Polarity)
	if err != nil {
		return nil, err
	}
	if _, err := session.StageBatchCreate(p.GranularityID, polarity, p.Contents, p.Weight); err != nil {
		return nil, err
	}
	s.scheduleRecount(session)
	return s.view(session), nil
}

func (s *Server) handleStageUpdate(params json.RawMessage) (interface{}, error) {
	var p StageUpdateParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	session, err := s.drafts.ActiveFor(p.PersonaID)
	if err != nil {
		return nil, err
	}
	if err := session.StageUpdate(p.TokenID, p.Changes); err != nil {
		return nil, err
	}
	s.scheduleRecount(session)
	return s.view(session), nil
}

func (s *Server) handleStageDelete(params json.RawMessage) (interface{}, error) {
	var p StageDeleteParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	session, err := s.drafts.ActiveFor(p.PersonaID)
	if err != nil {
		return nil, err
	}
	if err := session.StageDelete(p.TokenID); err != nil {
		return nil, err
	}
	s.scheduleRecount(session)
	return s.view(session), nil
}

func (s *Server) handleDraftView(params json.RawMessage) (interface{}, error) {
	var p DraftParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	session, err := s.drafts.ActiveFor(p.PersonaID)
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

func (s *Server) handleDraftCommit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p DraftParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	session, err := s.drafts.ActiveFor(p.PersonaID)
	if err != nil {
		return nil, err
	}
	pending := len(session.Pending())
	tokens, err := session.Commit(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("draft committed", zap.String("persona_id", p.PersonaID), zap.Int("operations", pending))
	return token.SortForDisplay(tokens, s.levels), nil
}

func (s *Server) handleDraftDiscard(params json.RawMessage) (interface{}, error) {
	var p DraftParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	session, err := s.drafts.ActiveFor(p.PersonaID)
	if err != nil {
		return nil, err
	}
	tokens, err := session.Discard()
	if err != nil {
		return nil, err
	}
	return token.SortForDisplay(tokens, s.levels), nil
}

func (s *Server) handleCompose(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ComposeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	persona, err := s.store.FindPersona(ctx, p.Persona)
	if err != nil {
		return nil, err
	}

	var tokens []token.Token
	if p.Draft {
		session, err := s.drafts.ActiveFor(persona.ID)
		if err != nil {
			return nil, err
		}
		tokens = session.CurrentView()
	} else {
		tokens, err = s.store.GetTokensByPersona(ctx, persona.ID)
		if err != nil {
			return nil, err
		}
	}

	modelID, err := s.modelFor(ctx, persona.ID, p.ModelID)
	if err != nil {
		return nil, err
	}

	prompt := composer.Compose(tokens, s.levels, s.composeOptions(p.Options))
	pos, neg := tokenizer.Annotate(ctx, s.counter, &prompt, modelID)
	return ComposeResult{Prompt: prompt, Positive: pos, Negative: neg}, nil
}

func (s *Server) handleStatus() StatusResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := StatusResult{
		PID:          os.Getpid(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Socket:       s.socketPath,
		Database:     s.store.Path(),
		DefaultModel: s.settings.Tokenizer.DefaultModel,
		Calls:        make(map[string]int, len(s.stats)),
	}
	for k, v := range s.stats {
		status.Calls[k] = v
	}
	if session, ok := s.drafts.Active(); ok {
		status.DraftPersona = session.PersonaID()
		status.Pending = len(session.Pending())
	}
	return status
}

func (s *Server) view(session *draft.Session) DraftView {
	tokens := token.SortForDisplay(session.CurrentView(), s.levels)
	if tokens == nil {
		tokens = []token.Token{}
	}
	return DraftView{
		PersonaID:  session.PersonaID(),
		Active:     session.Active(),
		Tokens:     tokens,
		Pending:    session.Pending(),
		HasChanges: session.HasChanges(),
		Counts:     s.LiveCountsFor(session.PersonaID()),
	}
}
