package rules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// decodeParams decodes the run's --param values into a rule's option struct.
// Every rule receives every parameter, so keys a rule does not know are
// ignored. Comma separated values decode into string slices.
func decodeParams(tag string, params map[string]string, out any) error {
	if len(params) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			trimSpaceHook,
		),
	})
	if err != nil {
		return &core.ConfigError{Rule: tag, Reason: "failed to create params decoder", Err: err}
	}

	raw := make(map[string]any, len(params))
	for k, v := range params {
		raw[k] = v
	}
	if err := decoder.Decode(raw); err != nil {
		return &core.ConfigError{Rule: tag, Reason: "invalid rule parameters", Err: err}
	}
	return nil
}

func trimSpaceHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if s, ok := data.(string); ok && to.Kind() == reflect.String {
		return strings.TrimSpace(s), nil
	}
	return data, nil
}

// requireParam reports a missing required parameter.
func requireParam(tag, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &core.ConfigError{Rule: tag, Reason: fmt.Sprintf("parameter %s is required (pass --param %s=...)", name, name)}
	}
	return nil
}

// identifierOK accepts plain and dot-qualified SQL identifiers.
func identifierOK(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// checkIdentifiers fails with a ConfigError for the first unsafe identifier.
func checkIdentifiers(tag, param string, names ...string) error {
	for _, n := range names {
		if !identifierOK(n) {
			return &core.ConfigError{Rule: tag, Reason: fmt.Sprintf("parameter %s: %q is not a valid identifier", param, n)}
		}
	}
	return nil
}
