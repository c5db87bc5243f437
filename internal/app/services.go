// Package app wires configuration into the engine and its optional
// backing services.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/cache"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/config"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/keywords"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/ner"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/scrub"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/store"
)

// Options disables optional services regardless of configuration
type Options struct {
	SkipCache bool
	SkipStore bool
}

// Services holds everything built from one configuration
type Services struct {
	Engine   *privacy.Engine
	Redactor privacy.Redactor // Engine, or a cache in front of it
	Cache    *cache.RedactionCache
	Store    *store.Store
	Keywords *keywords.Matcher
}

// NewServices builds the engine and connects the enabled services. An
// unavailable recognizer is an error; an unavailable cache or store is
// too, since the user asked for it.
func NewServices(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*Services, error) {
	s := &Services{}

	engine, err := BuildEngine(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.Engine = engine
	s.Redactor = engine

	matcher, err := keywords.New(cfg.Keywords.Terms, cfg.Keywords.WholeWord)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to build keyword matcher: %w", err)
	}
	s.Keywords = matcher

	if cfg.Cache.Enabled && !opts.SkipCache {
		log.Info("Initializing redaction cache...")
		c, err := cache.NewRedactionCache(&cfg.Cache, log.With(zap.String("component", "cache")))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		s.Cache = c
		s.Redactor = cache.NewCachingRedactor(engine, c, log.With(zap.String("component", "cache")))
	}

	if cfg.Store.Enabled && !opts.SkipStore {
		log.Info("Initializing run ledger...")
		st, err := store.NewStore(&cfg.Store, log.With(zap.String("component", "store")))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		s.Store = st
	}

	return s, nil
}

// BuildEngine creates the rule table, scrubbers and recognizer and
// assembles the engine
func BuildEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (*privacy.Engine, error) {
	rs, err := LoadRules(cfg.Engine.RulesFile)
	if err != nil {
		return nil, err
	}

	scrubber, err := BuildScrubber(cfg.Scrub, log)
	if err != nil {
		return nil, err
	}

	recognizer, err := ner.NewFactory(log.With(zap.String("component", "ner"))).Create(ctx, cfg.Recognizer.NER())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", privacy.ErrRecognizerUnavailable, err)
	}

	engine, err := privacy.New(rs, scrubber, recognizer, cfg.Engine.Options(), log.With(zap.String("component", "privacy")))
	if err != nil {
		recognizer.Close()
		return nil, err
	}
	return engine, nil
}

// LoadRules returns the rule table at path, or the built-in one
func LoadRules(path string) (*rules.RuleSet, error) {
	if path == "" {
		return rules.Default()
	}
	return rules.Load(path)
}

// BuildScrubber chains the enabled stage-1 scrubbers, secrets first
func BuildScrubber(cfg config.ScrubConfig, log *zap.Logger) (scrub.Scrubber, error) {
	var chain scrub.Chain
	if cfg.Secrets {
		s, err := scrub.NewSecretScrubber(log.With(zap.String("component", "scrub")))
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	if cfg.Handles {
		chain = append(chain, scrub.NewHandleScrubber())
	}

	switch len(chain) {
	case 0:
		return scrub.Noop{}, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}

// NewRunner builds the batch runner over the configured redactor
func (s *Services) NewRunner(cfg *config.Config, observer etl.Observer, log *zap.Logger) *etl.Runner {
	batch := cfg.Batch.Config
	pipeline := etl.NewPipeline(s.Redactor, &batch, observer, log.With(zap.String("component", "etl")))
	return etl.NewRunner(pipeline, etl.RunnerConfig{
		DataDir:      cfg.Batch.DataDir,
		Cities:       cfg.Batch.Cities,
		Sources:      cfg.Batch.Sources,
		OutputSuffix: cfg.Batch.OutputSuffix,
		SkipExisting: cfg.Batch.SkipExisting,
	}, log.With(zap.String("component", "runner")))
}

// Close releases every service that was started
func (s *Services) Close() {
	if s.Engine != nil {
		s.Engine.Close()
	}
	if s.Cache != nil {
		s.Cache.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}
