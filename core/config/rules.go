package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPriority         = 5
	DefaultMaxRetryAttempts = 3
)

// EntityRule declares how a single entity type is validated and queued.
type EntityRule struct {
	// RequiredFields are the payload fields needed to identify and process
	// the entity (e.g. an order needs an order id and a customer reference).
	RequiredFields []string `yaml:"required_fields"`

	// Priority 1 is most urgent, 10 least. Financial documents get a lower
	// number than catalog items.
	Priority int `yaml:"priority"`

	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// SchemaFile optionally points at a JSON Schema applied on top of the
	// required-field check.
	SchemaFile string `yaml:"schema_file"`
}

// Rules is the parsed entity rules file.
type Rules struct {
	Entities map[string]EntityRule `yaml:"entities"`
}

// LoadRules reads and parses the entity rules YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entity rules %s: %w", path, err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing entity rules %s: %w", path, err)
	}

	for name, rule := range rules.Entities {
		if rule.Priority < 1 || rule.Priority > 10 {
			if rule.Priority != 0 {
				return nil, fmt.Errorf("entity %q: priority must be 1-10, got %d", name, rule.Priority)
			}
			rule.Priority = DefaultPriority
		}
		if rule.MaxRetryAttempts <= 0 {
			rule.MaxRetryAttempts = DefaultMaxRetryAttempts
		}
		rules.Entities[name] = rule
	}

	return &rules, nil
}

// ForEntity returns the rule for an entity type, falling back to defaults
// for unknown types.
func (r *Rules) ForEntity(entityType string) (EntityRule, bool) {
	if r == nil {
		return defaultRule(), false
	}
	rule, ok := r.Entities[entityType]
	if !ok {
		return defaultRule(), false
	}
	return rule, true
}

func defaultRule() EntityRule {
	return EntityRule{
		Priority:         DefaultPriority,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
	}
}
