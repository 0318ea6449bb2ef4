package procket

import "fmt"

// ConfigurationError reports a logical parameter the fixture does not know,
// such as an expander id or an output name.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (ce *ConfigurationError) Error() string {
	if len(ce.Reason) > 0 {
		return fmt.Sprintf("invalid %s %q: %s", ce.Field, ce.Value, ce.Reason)
	}
	return fmt.Sprintf("invalid %s %q", ce.Field, ce.Value)
}
