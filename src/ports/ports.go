// Package ports declares the collaborator interfaces the editing core
// consumes. The libSQL store in src/database implements all of them.
package ports

import (
	"context"
	"fmt"

	"ppm/src/token"
)

// TokenGateway is the subset of persistence a draft commit replays against.
type TokenGateway interface {
	CreateToken(ctx context.Context, req token.CreateRequest) (token.Token, error)
	UpdateToken(ctx context.Context, id string, changes token.FieldChanges) (token.Token, error)
	DeleteToken(ctx context.Context, id string) error
	GetTokensByPersona(ctx context.Context, personaID string) ([]token.Token, error)
}

// TxTokenGateway is implemented by gateways able to run several calls in
// one backend transaction. fn receives a gateway bound to that transaction;
// returning an error rolls everything back.
type TxTokenGateway interface {
	TokenGateway
	WithinTx(ctx context.Context, fn func(tx TokenGateway) error) error
}

// ReorderEntry assigns a display order to one token.
type ReorderEntry struct {
	TokenID      string `json:"token_id"`
	DisplayOrder int    `json:"display_order"`
}

// Reorderer applies a reorder batch atomically.
type Reorderer interface {
	ReorderTokens(ctx context.Context, personaID string, batch []ReorderEntry) error
}

// GranularitySource lists the known categories.
type GranularitySource interface {
	GetGranularityLevels(ctx context.Context) ([]token.GranularityLevel, error)
}

// TokenCounter reports token usage of a composed prompt for a model.
// An empty modelID selects the counter's default model.
type TokenCounter interface {
	CountTokens(ctx context.Context, text, modelID string) (TokenCount, error)
}

// TokenCount is the usage statistic returned by a TokenCounter.
// Known is false when the counter failed; Display then renders "--/--".
type TokenCount struct {
	Count        int     `json:"count"`
	MaxTokens    int     `json:"max_tokens"`
	UsableTokens int     `json:"usable_tokens"`
	ExceedsLimit bool    `json:"exceeds_limit"`
	UsagePercent float64 `json:"usage_percent"`
	ModelID      string  `json:"model_id"`
	TokenizerID  string  `json:"tokenizer_id"`
	Known        bool    `json:"known"`
}

// Display renders the count as "used/usable".
func (c TokenCount) Display() string {
	if !c.Known {
		return "--/--"
	}
	return fmt.Sprintf("%d/%d", c.Count, c.UsableTokens)
}
