package scrub

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
)

// SecretScrubber replaces credentials found by the gitleaks rule set
// (API keys, tokens, private keys) with [REDACTED]. Detectors are pooled;
// when the pool cannot build one, scans share the fallback detector under
// mu instead of skipping.
type SecretScrubber struct {
	pool        sync.Pool
	newDetector func() (*detect.Detector, error)

	mu       sync.Mutex
	fallback *detect.Detector

	logger *zap.Logger
}

// NewSecretScrubber loads the default gitleaks configuration
func NewSecretScrubber(logger *zap.Logger) (*SecretScrubber, error) {
	fallback, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load gitleaks rules: %w", err)
	}

	s := &SecretScrubber{
		newDetector: detect.NewDetectorDefaultConfig,
		fallback:    fallback,
		logger:      logger,
	}
	s.pool.New = func() any {
		d, err := s.newDetector()
		if err != nil {
			logger.Error("Failed to create secret detector, using shared detector", zap.Error(err))
			return nil
		}
		return d
	}

	logger.Info("Secret scrubber initialized", zap.Int("rules", len(fallback.Config.Rules)))
	return s, nil
}

// findSecrets runs a pooled detector, or the shared one when none can be built
func (s *SecretScrubber) findSecrets(text string) []report.Finding {
	if d, _ := s.pool.Get().(*detect.Detector); d != nil {
		findings := d.DetectString(text)
		s.pool.Put(d)
		return findings
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback.DetectString(text)
}

// Scrub replaces every detected secret literal outside existing tokens
func (s *SecretScrubber) Scrub(text string) Result {
	res := Result{Text: text}
	if strings.TrimSpace(text) == "" {
		return res
	}

	findings := s.findSecrets(text)
	if len(findings) == 0 {
		return res
	}

	secrets := make(map[string]string, len(findings))
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if strings.TrimSpace(secret) == "" {
			continue
		}
		if _, ok := secrets[secret]; !ok {
			secrets[secret] = f.RuleID
		}
	}

	// Longest first so a secret that contains another is replaced whole
	ordered := make([]string, 0, len(secrets))
	for secret := range secrets {
		ordered = append(ordered, secret)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})

	counts := make(map[string]int)
	for _, secret := range ordered {
		res.Text = rules.ReplaceOutsideTokens(res.Text, func(segment string) string {
			if n := strings.Count(segment, secret); n > 0 {
				counts[secrets[secret]] += n
				return strings.ReplaceAll(segment, secret, string(rules.Redacted))
			}
			return segment
		})
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res.Findings = append(res.Findings, Finding{Scrubber: s.Name(), RuleID: id, Placeholder: rules.Redacted, Count: counts[id]})
	}
	return res
}

// Name identifies the scrubber
func (s *SecretScrubber) Name() string {
	return "secrets"
}
