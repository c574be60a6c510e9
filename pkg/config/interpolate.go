package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(name string) (string, bool)

// OSLookup reads from the process environment.
func OSLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// MapLookup resolves from a fixed map; used by tests and by callers that
// build the environment themselves.
func MapLookup(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// Interpolate expands $VAR, ${VAR}, ${VAR:-default}, ${VAR-default},
// ${VAR:?message} and ${VAR?message}. "$$" is a literal dollar sign.
func Interpolate(s string, lookup LookupFunc) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	if lookup == nil {
		lookup = OSLookup
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '{':
			end := matchBrace(s, i+1)
			if end < 0 {
				return "", errors.Errorf("unterminated variable reference in %q", s)
			}
			v, err := expandBraced(s[i+2:end], lookup)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			i = end
		case isNameStart(next):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			v, _ := lookup(s[i+1 : j])
			b.WriteString(v)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// InterpolateMap expands every value of m into a new map.
func InterpolateMap(m map[string]string, lookup LookupFunc) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		ev, err := Interpolate(v, lookup)
		if err != nil {
			return nil, errors.Wrapf(err, "variable %s", k)
		}
		out[k] = ev
	}
	return out, nil
}

// InterpolateSlice expands every element of in into a new slice.
func InterpolateSlice(in []string, lookup LookupFunc) ([]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		ev, err := Interpolate(v, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func expandBraced(expr string, lookup LookupFunc) (string, error) {
	n := 0
	for n < len(expr) && isNameChar(expr[n]) {
		n++
	}
	name := expr[:n]
	if name == "" || !isNameStart(name[0]) {
		return "", errors.Errorf("invalid variable name in ${%s}", expr)
	}
	op := expr[n:]
	val, set := lookup(name)

	switch {
	case op == "":
		return val, nil
	case strings.HasPrefix(op, ":-"):
		if set && val != "" {
			return val, nil
		}
		return Interpolate(op[2:], lookup)
	case strings.HasPrefix(op, "-"):
		if set {
			return val, nil
		}
		return Interpolate(op[1:], lookup)
	case strings.HasPrefix(op, ":?"):
		if set && val != "" {
			return val, nil
		}
		return "", errors.Errorf("required variable %s is missing a value: %s", name, op[2:])
	case strings.HasPrefix(op, "?"):
		if set {
			return val, nil
		}
		return "", errors.Errorf("required variable %s is missing a value: %s", name, op[1:])
	default:
		return "", errors.Errorf("invalid variable expression ${%s}", expr)
	}
}

// matchBrace returns the index of the '}' closing the '{' at open.
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
