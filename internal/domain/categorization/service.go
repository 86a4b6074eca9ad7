package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Candidate is a triple proposed by a spreadsheet row or an AI parse, with the
// free text it came from.
type Candidate struct {
	Project     string `json:"project"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
	Description string `json:"description,omitempty"`
}

// Triple returns the candidate's proposed levels.
func (c Candidate) Triple() Triple {
	return Triple{Project: c.Project, Category: c.Category, SubCategory: c.SubCategory}
}

// Snapshot is a read-only view of the taxonomy used for one import job or request.
type Snapshot struct {
	Taxonomy   *Taxonomy
	engine     *Engine
	reconciler Reconciler
	infer      bool
}

// NewSnapshot builds a snapshot over triples. inferFromDescription enables the keyword
// engine for candidates without a category.
func NewSnapshot(triples []Triple, reconciler Reconciler, inferFromDescription bool) *Snapshot {
	tax := NewTaxonomy(triples)
	snap := &Snapshot{Taxonomy: tax, reconciler: reconciler, infer: inferFromDescription}
	if inferFromDescription {
		snap.engine = NewEngine(tax)
	}
	return snap
}

// Contains reports exact taxonomy membership.
func (s *Snapshot) Contains(t Triple) bool {
	return s.Taxonomy.Contains(t)
}

// Resolve reconciles one candidate. A candidate whose category is empty or the
// 其他 placeholder is first matched against its description when inference is on.
func (s *Snapshot) Resolve(c Candidate) Resolution {
	proposed := c.Triple().Trim()
	if s.infer && s.engine != nil && needsInference(proposed) {
		if match := s.engine.Match(c.Description); match != nil {
			proposed = match.Triple
		}
	}
	return s.reconciler.Resolve(proposed, s.Taxonomy)
}

// ResolveAll reconciles candidates in order.
func (s *Snapshot) ResolveAll(candidates []Candidate) []Resolution {
	out := make([]Resolution, len(candidates))
	if s.infer && s.engine != nil {
		descriptions := make([]string, len(candidates))
		for i, c := range candidates {
			if needsInference(c.Triple().Trim()) {
				descriptions[i] = c.Description
			}
		}
		matches := s.engine.MatchBatch(descriptions)
		for i, c := range candidates {
			proposed := c.Triple().Trim()
			if matches[i] != nil {
				proposed = matches[i].Triple
			}
			out[i] = s.reconciler.Resolve(proposed, s.Taxonomy)
		}
		return out
	}
	for i, c := range candidates {
		out[i] = s.reconciler.Resolve(c.Triple(), s.Taxonomy)
	}
	return out
}

func needsInference(t Triple) bool {
	return t.Category == "" || (t.Category == OtherName && (t.SubCategory == "" || t.SubCategory == OtherName))
}

// Service loads taxonomy snapshots and records explicit dictionary additions.
type Service struct {
	source     Source
	dictionary Dictionary
	logger     *slog.Logger

	reconciler Reconciler
	infer      bool
	ttl        time.Duration

	// Cache for the last snapshot (refreshed after ttl or a dictionary write)
	cacheMu  sync.RWMutex
	cached   *Snapshot
	loadedAt time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithFuzzyDistance enables the Levenshtein category step.
func WithFuzzyDistance(distance int) Option {
	return func(s *Service) { s.reconciler.FuzzyDistance = distance }
}

// WithInference enables keyword inference from descriptions.
func WithInference(enabled bool) Option {
	return func(s *Service) { s.infer = enabled }
}

// WithCacheTTL reuses a loaded snapshot for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService creates a new categorization service. dictionary may be nil when
// the backend has no writable dictionary.
func NewService(source Source, dictionary Dictionary, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		source:     source,
		dictionary: dictionary,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current taxonomy view.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.ttl > 0 {
		s.cacheMu.RLock()
		if s.cached != nil && time.Since(s.loadedAt) < s.ttl {
			snap := s.cached
			s.cacheMu.RUnlock()
			return snap, nil
		}
		s.cacheMu.RUnlock()
	}

	triples, err := s.source.ListAllTriples(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	snap := NewSnapshot(triples, s.reconciler, s.infer)
	s.logger.Debug("taxonomy snapshot loaded", slog.Int("triples", snap.Taxonomy.Len()))

	if s.ttl > 0 {
		s.cacheMu.Lock()
		s.cached = snap
		s.loadedAt = time.Now()
		s.cacheMu.Unlock()
	}
	return snap, nil
}

// ResolveCandidates reconciles AI-parsed candidates against a fresh snapshot.
func (s *Service) ResolveCandidates(ctx context.Context, candidates []Candidate) ([]Resolution, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ResolveAll(candidates), nil
}

// AddTriple grows the taxonomy. This is the only write path into it.
func (s *Service) AddTriple(ctx context.Context, t Triple) (bool, error) {
	if s.dictionary == nil {
		return false, fmt.Errorf("hierarchy dictionary is not configured")
	}
	added, err := s.dictionary.AddTriple(ctx, t)
	if err != nil {
		return false, err
	}
	s.invalidate()
	if added {
		s.logger.Info("hierarchy triple added", slog.String("triple", t.Trim().String()))
	}
	return added, nil
}

func (s *Service) invalidate() {
	s.cacheMu.Lock()
	s.cached = nil
	s.cacheMu.Unlock()
}
