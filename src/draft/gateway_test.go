package draft

import (
	"context"
	"fmt"
	"sync"

	"ppm/src/ports"
	"ppm/src/token"
)

// fakeGateway is an in-memory TokenGateway recording every call.
type fakeGateway struct {
	mu     sync.Mutex
	tokens map[string]token.Token
	seq    int
	calls  []string
	failOn map[string]error
}

func newFakeGateway(seed ...token.Token) *fakeGateway {
	g := &fakeGateway{tokens: map[string]token.Token{}, failOn: map[string]error{}}
	for _, t := range seed {
		g.tokens[t.ID] = t
	}
	return g
}

func (g *fakeGateway) fail(call string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failOn[call] = err
}

func (g *fakeGateway) heal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failOn = map[string]error{}
}

func (g *fakeGateway) record(call string) error {
	g.calls = append(g.calls, call)
	return g.failOn[call]
}

func (g *fakeGateway) CreateToken(_ context.Context, req token.CreateRequest) (token.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("create:" + req.Content); err != nil {
		return token.Token{}, err
	}
	g.seq++
	t := token.Token{
		ID:            fmt.Sprintf("db-%d", g.seq),
		PersonaID:     req.PersonaID,
		GranularityID: req.GranularityID,
		Polarity:      req.Polarity,
		Content:       req.Content,
		Weight:        req.Weight,
		DisplayOrder:  100 + g.seq,
	}
	g.tokens[t.ID] = t
	return t, nil
}

func (g *fakeGateway) UpdateToken(_ context.Context, id string, changes token.FieldChanges) (token.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("update:" + id); err != nil {
		return token.Token{}, err
	}
	t := g.tokens[id]
	t.Apply(changes)
	g.tokens[id] = t
	return t, nil
}

func (g *fakeGateway) DeleteToken(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("delete:" + id); err != nil {
		return err
	}
	delete(g.tokens, id)
	return nil
}

func (g *fakeGateway) GetTokensByPersona(_ context.Context, personaID string) ([]token.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("list:" + personaID); err != nil {
		return nil, err
	}
	var out []token.Token
	for _, t := range g.tokens {
		if t.PersonaID == personaID {
			out = append(out, t)
		}
	}
	return token.SortForDisplay(out, token.DefaultGranularityLevels()), nil
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// txGateway adds all-or-nothing semantics on top of fakeGateway.
type txGateway struct {
	*fakeGateway
	commits int
}

func (g *txGateway) WithinTx(ctx context.Context, fn func(tx ports.TokenGateway) error) error {
	g.mu.Lock()
	saved := make(map[string]token.Token, len(g.tokens))
	for k, v := range g.tokens {
		saved[k] = v
	}
	seq := g.seq
	g.mu.Unlock()

	if err := fn(g.fakeGateway); err != nil {
		g.mu.Lock()
		g.tokens = saved
		g.seq = seq
		g.mu.Unlock()
		return err
	}
	g.commits++
	return nil
}

var (
	_ ports.TokenGateway   = (*fakeGateway)(nil)
	_ ports.TxTokenGateway = (*txGateway)(nil)
)
