package draft

import (
	"fmt"
	"strings"
	"time"

	"ppm/src/token"
)

// TempIDPrefix marks ids of tokens that exist only inside a draft.
// Persisted ids are plain UUIDs and never carry it.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id names a staged, never-committed token.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// OpKind tags a staged operation.
type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// commitPhases is the fixed replay order.
var commitPhases = []OpKind{OpDelete, OpUpdate, OpCreate}

// Operation is one entry of the session log.
//
// Create carries the full token in Payload under a temp id. Update and
// Delete carry the token's state at session start in Original; Update
// also carries the merged Changes.
type Operation struct {
	Kind     OpKind             `json:"kind"`
	TokenID  string             `json:"token_id"`
	Payload  token.Token        `json:"payload,omitempty"`
	Original token.Token        `json:"original,omitempty"`
	Changes  token.FieldChanges `json:"changes,omitempty"`
	StagedAt time.Time          `json:"staged_at"`

	// done is set once the gateway acknowledged the op; a retried
	// commit skips it.
	done bool
	// persistedID is the backend id assigned to a committed create.
	persistedID string
}

// Done reports whether the op already reached the backend.
func (o Operation) Done() bool {
	return o.done
}

// PersistedID returns the backend id of a committed create.
func (o Operation) PersistedID() string {
	return o.persistedID
}

func (o Operation) createRequest() token.CreateRequest {
	return token.CreateRequest{
		PersonaID:     o.Payload.PersonaID,
		GranularityID: o.Payload.GranularityID,
		Polarity:      o.Payload.Polarity,
		Content:       o.Payload.Content,
		Weight:        o.Payload.Weight,
	}
}

func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OpKind) UnmarshalText(text []byte) error {
	for _, kind := range []OpKind{OpCreate, OpUpdate, OpDelete} {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown operation kind %q", text)
}
