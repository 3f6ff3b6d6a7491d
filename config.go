package flowsentry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default inspection budgets, taken from the limits historically used for
// type identification (first server-message payload) and signatures (10 MB).
const (
	DefaultTypeDepth      uint64 = 1460
	DefaultSignatureDepth uint64 = 10485760
)

// RuleSpec is one rule as loaded from a rules/*.json file.
type RuleSpec struct {
	Name    string `json:"name"`
	Option  string `json:"option"`
	Args    string `json:"args"`
	Enabled bool   `json:"enabled"`
}

// Config is everything loaded from a configuration directory:
//
//	<dir>/limits.json    depth budgets
//	<dir>/rules/*.json   one RuleSpec per file
//	<dir>/magics/*.json  one MagicRule per file
type Config struct {
	Limits DepthLimits `json:"limits"`
	Rules  []RuleSpec  `json:"rules"`
	Magics []MagicRule `json:"magics"`
}

const maxConfigFileSize = 1024 * 1024

// LoadConfig reads a configuration directory. Missing subdirectories are
// skipped so a minimal deployment only needs the pieces it uses.
func LoadConfig(configDir string) (*Config, error) {
	config := &Config{
		Limits: DepthLimits{
			TypeDepth:      DefaultTypeDepth,
			SignatureDepth: DefaultSignatureDepth,
		},
	}

	if err := loadLimits(filepath.Join(configDir, "limits.json"), config); err != nil {
		return nil, fmt.Errorf("failed to load limits: %w", err)
	}
	if err := loadRuleSpecs(filepath.Join(configDir, "rules"), config); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if err := loadMagicRules(filepath.Join(configDir, "magics"), config); err != nil {
		return nil, fmt.Errorf("failed to load magic rules: %w", err)
	}

	return config, nil
}

func loadLimits(path string, config *Config) error {
	data, err := readConfigFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &config.Limits)
}

func loadRuleSpecs(rulesDir string, config *Config) error {
	files, err := os.ReadDir(rulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read rules directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		data, err := readConfigFile(filepath.Join(rulesDir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read rule file %s: %w", file.Name(), err)
		}
		var rule RuleSpec
		if err := json.Unmarshal(data, &rule); err != nil {
			return fmt.Errorf("failed to parse rule file %s: %w", file.Name(), err)
		}
		config.Rules = append(config.Rules, rule)
	}

	return nil
}

func loadMagicRules(magicsDir string, config *Config) error {
	files, err := os.ReadDir(magicsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read magics directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		data, err := readConfigFile(filepath.Join(magicsDir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read magic file %s: %w", file.Name(), err)
		}
		var magic MagicRule
		if err := json.Unmarshal(data, &magic); err != nil {
			return fmt.Errorf("failed to parse magic file %s: %w", file.Name(), err)
		}
		config.Magics = append(config.Magics, magic)
	}

	return nil
}

func readConfigFile(path string) ([]byte, error) {
	// Config files are operator-provided; still cap size to keep a stray
	// file from exhausting memory.
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is too large", filepath.Base(path))
	}
	return os.ReadFile(path)
}

// DefaultConfigValidator checks a loaded configuration before it is compiled
// into a runtime.
type DefaultConfigValidator struct{}

func NewDefaultConfigValidator() *DefaultConfigValidator {
	return &DefaultConfigValidator{}
}

func (v *DefaultConfigValidator) Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	seen := make(map[string]struct{})
	for _, rule := range config.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule has empty name")
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("duplicate rule name: %s", rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if rule.Option == "" {
			return fmt.Errorf("rule %s has empty option keyword", rule.Name)
		}
	}

	types := make(map[string]struct{})
	for _, magic := range config.Magics {
		if magic.Type == "" {
			return fmt.Errorf("magic rule has empty type")
		}
		if _, dup := types[magic.Type]; dup {
			return fmt.Errorf("duplicate magic type: %s", magic.Type)
		}
		types[magic.Type] = struct{}{}
		if magic.Magic == "" {
			return fmt.Errorf("magic rule %s has empty pattern", magic.Type)
		}
	}

	return nil
}

// BuildRuntime compiles a loaded configuration into the immutable form units
// of work run under.
func BuildRuntime(config *Config, registry *OptionRegistry) (*RuntimeConfig, error) {
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}

	rules, err := CompileRules(config.Rules, registry)
	if err != nil {
		return nil, err
	}

	identifier, err := NewMagicIdentifier(config.Magics)
	if err != nil {
		return nil, err
	}

	return &RuntimeConfig{
		Limits:    config.Limits,
		Rules:     rules,
		Files:     NewFileProcessor(identifier, config.Limits),
		TypeNames: identifier.TypeNames(),
	}, nil
}
