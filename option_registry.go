package flowsentry

import (
	"fmt"
	"sort"
	"sync"
)

// OptionRegistry maps rule keywords to option constructors. New detection
// kinds register themselves at init time; nothing else in the engine needs
// to know about individual kinds.
type OptionRegistry struct {
	mu        sync.RWMutex
	factories map[string]OptionFactory
}

func NewOptionRegistry() *OptionRegistry {
	return &OptionRegistry{factories: make(map[string]OptionFactory)}
}

func (r *OptionRegistry) Register(keyword string, factory OptionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[keyword] = factory
}

func (r *OptionRegistry) Get(keyword string) (OptionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, exists := r.factories[keyword]
	return factory, exists
}

func (r *OptionRegistry) Keywords() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keywords := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	return keywords
}

var defaultOptionRegistry = NewOptionRegistry()

// RegisterOption adds a keyword to the default registry.
func RegisterOption(keyword string, factory OptionFactory) {
	defaultOptionRegistry.Register(keyword, factory)
}

// DefaultOptionRegistry returns the registry populated by option init hooks.
func DefaultOptionRegistry() *OptionRegistry {
	return defaultOptionRegistry
}

// CompiledRule pairs a loaded rule with its constructed option.
type CompiledRule struct {
	Name   string
	Option RuleOption
}

// CompileRules builds options for every enabled rule and deduplicates
// structurally identical ones, so two rules carrying the same predicate share
// a single option instance.
func CompileRules(rules []RuleSpec, registry *OptionRegistry) ([]*CompiledRule, error) {
	if registry == nil {
		registry = defaultOptionRegistry
	}

	byHash := make(map[uint32][]RuleOption)
	var compiled []*CompiledRule

	for _, spec := range rules {
		if !spec.Enabled {
			continue
		}
		factory, exists := registry.Get(spec.Option)
		if !exists {
			return nil, fmt.Errorf("rule %s: unknown option keyword %q", spec.Name, spec.Option)
		}
		opt, err := factory(spec.Args)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", spec.Name, err)
		}

		opt = dedupeOption(byHash, opt)
		compiled = append(compiled, &CompiledRule{Name: spec.Name, Option: opt})
	}

	return compiled, nil
}

func dedupeOption(byHash map[uint32][]RuleOption, opt RuleOption) RuleOption {
	h := opt.Hash()
	for _, existing := range byHash[h] {
		if existing.Equals(opt) {
			return existing
		}
	}
	byHash[h] = append(byHash[h], opt)
	return opt
}
