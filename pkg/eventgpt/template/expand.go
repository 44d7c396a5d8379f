package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// placeholder matches ${NAME} and ${NAME:-default}.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:-([^}]*))?\}`)

// Lookup resolves a variable name.
type Lookup func(name string) (string, bool)

// Vars returns a Lookup over a fixed map.
func Vars(vars map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// Env returns a Lookup over the process environment.
func Env() Lookup {
	return os.LookupEnv
}

// Chain returns a Lookup that tries each lookup in order.
func Chain(lookups ...Lookup) Lookup {
	return func(name string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(name); ok {
				return v, true
			}
		}
		return "", false
	}
}

// Expander substitutes ${NAME} placeholders in configuration text.
//
// A placeholder with a default, ${NAME:-value}, falls back to value when
// NAME is unset. Otherwise the MissingAction decides.
// Expander is safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
}

// NewExpander creates an Expander.
//
// Default configuration:
//   - MissingAction: MissingKeep (keep placeholders as-is)
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand substitutes every placeholder in s. It only fails under
// MissingError, after collecting every undefined name.
func (e *Expander) Expand(s string, lookup Lookup) (string, error) {
	if s == "" {
		return "", nil
	}
	if lookup == nil {
		lookup = Vars(nil)
	}

	var missing []string
	result := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := sub[1], sub[2] != "", sub[3]
		if v, ok := lookup(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// UndefinedVariableError is returned under MissingError when placeholders
// without defaults reference unset variables.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand substitutes placeholders in s from vars, keeping unresolved ones.
func Expand(s string, vars map[string]string) string {
	result, _ := defaultExpander.Expand(s, Vars(vars))
	return result
}
