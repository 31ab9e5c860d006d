package strategy

import (
	"slices"
	"sync"

	"github.com/sells-group/research-pipeline/internal/model"
)

// Auto is the scraper id that selects a strategy per URL by confidence.
const Auto = "auto"

// Registry maps scraper ids to strategies. It is built once at startup and
// injected into the executor.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
}

// NewRegistry returns a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any strategy with the same name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.Name()]; !ok {
		r.order = append(r.order, s.Name())
	}
	r.strategies[s.Name()] = s
}

// Get returns the strategy registered as name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, model.Validationf("unknown scraper %q", name)
	}
	return s, nil
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Resolve returns the strategy for scraperID and rawURL. For Auto it picks
// the highest Detect score; ties go to the earlier registration.
func (r *Registry) Resolve(scraperID, rawURL string) (Strategy, error) {
	if scraperID != Auto {
		return r.Get(scraperID)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Strategy
	bestScore := 0.0
	for _, name := range r.order {
		s := r.strategies[name]
		if score := s.Detect(rawURL); score > bestScore {
			best, bestScore = s, score
		}
	}
	if best == nil {
		return nil, model.Validationf("no strategy accepts %s", rawURL)
	}
	return best, nil
}

// Known reports whether scraperID is Auto or a registered name.
func (r *Registry) Known(scraperID string) bool {
	if scraperID == Auto {
		return true
	}
	_, err := r.Get(scraperID)
	return err == nil
}
