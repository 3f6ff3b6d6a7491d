package flowsentry

import "fmt"

// ConfigError reports malformed rule arguments at construction time. It names
// the option and the offending token so rule-load diagnostics can point at
// the exact culprit.
type ConfigError struct {
	Option string
	Token  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s: %q", e.Option, e.Reason, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Option, e.Reason)
}
