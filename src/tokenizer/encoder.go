package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	apperrors "ppm/src/errors"
)

// Encoder counts the tokens of a text.
type Encoder interface {
	Count(text string) (int, error)
	Name() string
}

// BPEEncoder counts with a tiktoken BPE vocabulary. The vocabulary is
// loaded on first use; tiktoken fetches it over the network unless
// TIKTOKEN_CACHE_DIR already holds it.
type BPEEncoder struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewBPEEncoder returns an encoder for the named tiktoken encoding,
// e.g. "cl100k_base".
func NewBPEEncoder(encoding string) *BPEEncoder {
	return &BPEEncoder{encoding: encoding}
}

func (e *BPEEncoder) Name() string {
	return e.encoding
}

func (e *BPEEncoder) Count(text string) (int, error) {
	e.once.Do(func() {
		e.enc, e.err = tiktoken.GetEncoding(e.encoding)
	})
	if e.err != nil {
		return 0, fmt.Errorf("%w: load %s: %v", apperrors.ErrTokenizerUnavailable, e.encoding, e.err)
	}
	return len(e.enc.Encode(text, nil, nil)), nil
}

// WordEncoding selects WordEncoder in the tokenizer settings.
const WordEncoding = "words"

// WordEncoder approximates a count from words and prompt punctuation.
type WordEncoder struct{}

func (WordEncoder) Name() string {
	return "word-estimate"
}

func (WordEncoder) Count(text string) (int, error) {
	return simpleCount(text), nil
}

// simpleCount counts whitespace or comma separated words plus one for
// every weight or grouping character, which CLIP encodes on its own.
func simpleCount(text string) int {
	count := 0
	words := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, word := range words {
		count++
		count += strings.Count(word, "(") + strings.Count(word, ")") +
			strings.Count(word, "[") + strings.Count(word, "]") +
			strings.Count(word, ":") + strings.Count(word, "|")
	}
	return count
}
