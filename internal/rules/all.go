// Package rules holds the built-in cleaning rules. Each rule registers itself
// with the default registry from init(); import the package for its side
// effect:
//
//	import _ "github.com/leapstack-labs/leapclean/internal/rules"
package rules

import "github.com/leapstack-labs/leapclean/internal/registry"

// Definitions returns the definitions of every built-in rule.
func Definitions() []registry.Definition {
	return []registry.Definition{
		DropInvalidPersonsDefinition(),
		NullFreeTextDefinition(),
		ShiftDatesDefinition(),
		RepopulatePersonDefinition(),
	}
}

// RegisterAll registers every built-in rule with reg.
func RegisterAll(reg *registry.Registry) error {
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
