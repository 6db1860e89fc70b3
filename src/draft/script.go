package draft

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	apperrors "ppm/src/errors"
	"ppm/src/token"
)

// Script is a TOML list of staging operations replayed, in file order,
// against a session:
//
//	[[op]]
//	kind = "create"
//	granularity = "face"
//	contents = "blue eyes, freckles"
//
//	[[op]]
//	kind = "update"
//	token = "blue eyes"
//	set = { weight = 1.2 }
//
// Tokens are referenced by id or by their exact content.
type Script struct {
	Ops []ScriptOp `toml:"op"`
}

type ScriptOp struct {
	Kind        string             `toml:"kind"`
	Token       string             `toml:"token"`
	Granularity string             `toml:"granularity"`
	Polarity    string             `toml:"polarity"`
	Contents    string             `toml:"contents"`
	Weight      *float64           `toml:"weight"`
	Set         token.FieldChanges `toml:"set"`
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := ParseScript(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScript decodes a script and checks every op names a known kind.
func ParseScript(data string) (*Script, error) {
	var sc Script
	if _, err := toml.Decode(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, op := range sc.Ops {
		switch op.Kind {
		case "create":
			if op.Granularity == "" {
				return nil, apperrors.NewValidationError(fmt.Sprintf("op[%d].granularity", i), nil, "is required")
			}
		case "update", "delete":
			if op.Token == "" {
				return nil, apperrors.NewValidationError(fmt.Sprintf("op[%d].token", i), nil, "is required")
			}
		default:
			return nil, apperrors.NewValidationError(fmt.Sprintf("op[%d].kind", i), op.Kind, "must be create, update or delete")
		}
	}
	return &sc, nil
}

// Apply stages every op on s. It stops at the first failing op; ops
// staged before it stay staged.
func (sc *Script) Apply(s *Session) error {
	for i, op := range sc.Ops {
		if err := op.apply(s); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

func (op ScriptOp) apply(s *Session) error {
	switch op.Kind {
	case "create":
		polarity := token.Positive
		if op.Polarity != "" {
			p, err := token.ParsePolarity(op.Polarity)
			if err != nil {
				return err
			}
			polarity = p
		}
		_, err := s.StageBatchCreate(op.Granularity, polarity, op.Contents, op.Weight)
		return err
	case "update":
		id, err := resolve(s, op.Token)
		if err != nil {
			return err
		}
		return s.StageUpdate(id, op.Set)
	case "delete":
		id, err := resolve(s, op.Token)
		if err != nil {
			return err
		}
		return s.StageDelete(id)
	}
	return apperrors.NewValidationError("kind", op.Kind, "must be create, update or delete")
}

// resolve maps a token reference onto an id of the current view.
func resolve(s *Session, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	view := s.CurrentView()

	var matches []string
	for _, t := range view {
		if t.ID == ref {
			return t.ID, nil
		}
		if t.Content == ref {
			matches = append(matches, t.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", ref, apperrors.ErrTokenNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", apperrors.NewValidationError("token", ref, "matches more than one token; use its id")
	}
}
