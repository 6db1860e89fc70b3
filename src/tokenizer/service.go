// Package tokenizer counts prompt tokens against the limits of image
// generation models.
package tokenizer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"ppm/src/composer"
	"ppm/src/config"
	"ppm/src/ports"
)

// TokenCount is the result of a count.
type TokenCount = ports.TokenCount

// Unknown is the count reported when counting failed.
func Unknown(modelID string) TokenCount {
	return TokenCount{ModelID: modelID}
}

func newCount(count int, cfg Config, modelID string) TokenCount {
	var percent float64
	if cfg.UsableTokens > 0 {
		percent = float64(count) / float64(cfg.UsableTokens) * 100
	}
	return TokenCount{
		Count:        count,
		MaxTokens:    cfg.MaxTokens,
		UsableTokens: cfg.UsableTokens,
		ExceedsLimit: count > cfg.UsableTokens,
		UsagePercent: percent,
		ModelID:      modelID,
		TokenizerID:  cfg.TokenizerID,
		Known:        true,
	}
}

// Service counts tokens with an Encoder, falling back to a word estimate
// when the encoder is unavailable.
type Service struct {
	encoder      Encoder
	cache        Cache
	defaultModel string
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithEncoder(enc Encoder) Option {
	return func(s *Service) { s.encoder = enc }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithDefaultModel(modelID string) Option {
	return func(s *Service) {
		if modelID != "" {
			s.defaultModel = modelID
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService returns a Service using the cl100k_base BPE vocabulary
// unless WithEncoder says otherwise.
func NewService(opts ...Option) *Service {
	s := &Service{
		encoder:      NewBPEEncoder("cl100k_base"),
		defaultModel: DefaultModelID,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultModel returns the model used when none is given.
func (s *Service) DefaultModel() string {
	return s.defaultModel
}

// CountTokens counts text for modelID, or the default model when empty.
func (s *Service) CountTokens(ctx context.Context, text, modelID string) (TokenCount, error) {
	if err := ctx.Err(); err != nil {
		return Unknown(modelID), err
	}
	if modelID == "" {
		modelID = s.defaultModel
	}
	cfg := ConfigForModel(modelID)

	text = strings.TrimSpace(text)
	if text == "" {
		return newCount(0, cfg, modelID), nil
	}

	key := CacheKey(modelID, text)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("token count cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	n, err := s.encoder.Count(text)
	if err != nil {
		s.logger.Debug("encoder unavailable, estimating",
			zap.String("encoder", s.encoder.Name()),
			zap.Error(err))
		n = simpleCount(text)
	}
	count := newCount(n, cfg, modelID)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count); err != nil {
			s.logger.Warn("token count cache write failed", zap.Error(err))
		}
	}
	return count, nil
}

// CountBatch counts every text for the same model.
func (s *Service) CountBatch(ctx context.Context, texts []string, modelID string) ([]TokenCount, error) {
	out := make([]TokenCount, 0, len(texts))
	for _, text := range texts {
		c, err := s.CountTokens(ctx, text, modelID)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Annotate counts both prompts of a composition. A failed count is
// reported as Unknown and leaves the prompt's count placeholder nil.
func Annotate(ctx context.Context, counter ports.TokenCounter, prompt *composer.ComposedPrompt, modelID string) (positive, negative TokenCount) {
	positive = countOrUnknown(ctx, counter, prompt.PositivePrompt, modelID)
	negative = countOrUnknown(ctx, counter, prompt.NegativePrompt, modelID)
	if positive.Known {
		n := positive.Count
		prompt.PositiveTokenCount = &n
	}
	if negative.Known {
		n := negative.Count
		prompt.NegativeTokenCount = &n
	}
	return positive, negative
}

func countOrUnknown(ctx context.Context, counter ports.TokenCounter, text, modelID string) TokenCount {
	c, err := counter.CountTokens(ctx, text, modelID)
	if err != nil {
		return Unknown(modelID)
	}
	return c
}

var _ ports.TokenCounter = (*Service)(nil)

// NewServiceFromConfig builds a Service with the cache selected by cfg.
// The returned close function releases the cache.
func NewServiceFromConfig(cfg config.TokenizerConfig, logger *zap.Logger) (*Service, func() error, error) {
	opts := []Option{
		WithDefaultModel(cfg.DefaultModel),
		WithLogger(logger),
	}
	switch cfg.Encoding {
	case "":
	case WordEncoding:
		opts = append(opts, WithEncoder(WordEncoder{}))
	default:
		opts = append(opts, WithEncoder(NewBPEEncoder(cfg.Encoding)))
	}

	closeFn := func() error { return nil }
	switch cfg.Cache {
	case config.CacheMemory:
		opts = append(opts, WithCache(NewMemoryCache(cfg.CacheTTL.Duration, 0)))
	case config.CacheRedis:
		rc, err := NewRedisCache(cfg.RedisURL, cfg.CacheTTL.Duration)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, WithCache(rc))
		closeFn = rc.Close
	}
	return NewService(opts...), closeFn, nil
}
