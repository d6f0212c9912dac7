package watchdog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// StrategyKind names a deterministic remediation.
type StrategyKind string

const (
	StrategyRequeue StrategyKind = "requeue"
	StrategyFail    StrategyKind = "fail"
	StrategyNone    StrategyKind = "none"
)

const defaultMaxRetries = 3

// Strategy is the pre-approved fix for one pattern key.
type Strategy struct {
	Pattern     string       `toml:"pattern"`
	Kind        StrategyKind `toml:"kind"`
	MaxRetries  int          `toml:"max_retries"`
	Reason      string       `toml:"reason"`
	Description string       `toml:"description"`
}

// Automated reports whether applying the strategy changes the job.
func (s Strategy) Automated() bool {
	return s.Kind == StrategyRequeue || s.Kind == StrategyFail
}

// Registry maps pattern keys to strategies. Unknown keys resolve to the
// "no known fix" default.
type Registry struct {
	defaultMaxRetries int
	byPattern         map[string]Strategy
}

type registryFile struct {
	DefaultMaxRetries int        `toml:"default_max_retries"`
	Strategies        []Strategy `toml:"strategy"`
}

// NewRegistry builds a registry from strategies. Every entry must name a
// pattern and a known kind.
func NewRegistry(maxRetries int, strategies ...Strategy) (*Registry, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	r := &Registry{defaultMaxRetries: maxRetries, byPattern: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		s.Pattern = strings.TrimSpace(s.Pattern)
		if s.Pattern == "" {
			return nil, errors.New("watchdog: strategy without pattern")
		}
		if !ValidKind(s.Kind) {
			return nil, fmt.Errorf("watchdog: pattern %s: unknown strategy kind %q", s.Pattern, s.Kind)
		}
		if _, dup := r.byPattern[s.Pattern]; dup {
			return nil, fmt.Errorf("watchdog: pattern %s registered twice", s.Pattern)
		}
		if s.MaxRetries <= 0 {
			s.MaxRetries = maxRetries
		}
		r.byPattern[s.Pattern] = s
	}
	return r, nil
}

// DefaultRegistry re-enqueues jobs stuck in a pipeline stage. Severe buckets
// and error signatures stay with operators until promoted.
func DefaultRegistry() *Registry {
	var strategies []Strategy
	for _, stage := range []string{"queued", "transcribing", "extracting_frames", "rendering", "generating_ai"} {
		strategies = append(strategies, Strategy{
			Pattern:     "stuck_in_" + stage,
			Kind:        StrategyRequeue,
			Description: "re-enqueue from the last acknowledged stage",
		})
	}
	r, err := NewRegistry(defaultMaxRetries, strategies...)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads a TOML strategy table from path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("watchdog: read strategies: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("watchdog: parse strategies: %w", err)
	}
	return NewRegistry(file.DefaultMaxRetries, file.Strategies...)
}

// Lookup returns the registered strategy for key. The second result is false
// when only the default applies.
func (r *Registry) Lookup(key string) (Strategy, bool) {
	if s, ok := r.byPattern[key]; ok {
		return s, true
	}
	return r.Default(key), false
}

// Default is the "no known fix" entry.
func (r *Registry) Default(key string) Strategy {
	return Strategy{Pattern: key, Kind: StrategyNone, Description: "no known fix"}
}

// FromPromotion builds the strategy recorded on a promoted pattern row.
func (r *Registry) FromPromotion(key, kind string) (Strategy, bool) {
	k := StrategyKind(strings.TrimSpace(kind))
	if !ValidKind(k) || k == StrategyNone {
		return r.Default(key), false
	}
	return Strategy{
		Pattern:     key,
		Kind:        k,
		MaxRetries:  r.defaultMaxRetries,
		Description: "operator-promoted " + string(k),
	}, true
}

// Patterns lists registered pattern keys in order.
func (r *Registry) Patterns() []string {
	keys := make([]string, 0, len(r.byPattern))
	for k := range r.byPattern {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidKind reports whether kind is a known strategy kind.
func ValidKind(kind StrategyKind) bool {
	switch kind {
	case StrategyRequeue, StrategyFail, StrategyNone:
		return true
	}
	return false
}
