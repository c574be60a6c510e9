package state

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// secretMarkers flag environment keys and flag names whose values never
// reach the state file.
var secretMarkers = []string{
	"PASSWORD",
	"PASSWD",
	"SECRET",
	"TOKEN",
	"KEY",
	"CREDENTIAL",
	"AUTH",
	"PRIVATE",
	"DSN",
}

func isSecret(name string) bool {
	upper := strings.ToUpper(name)
	for _, m := range secretMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// SanitizeEnv returns a copy of env with secret values redacted.
func SanitizeEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if isSecret(k) {
			v = redactedValue
		}
		out[k] = v
	}
	return out
}

// SanitizeArgv returns a copy of argv where NAME=value arguments with a
// secret-looking name have their value redacted. Leading dashes are
// ignored, so both `-e DB_PASSWORD=x` and `--api-token=x` are caught.
func SanitizeArgv(argv []string) []string {
	if argv == nil {
		return nil
	}
	out := make([]string, len(argv))
	for i, arg := range argv {
		name, _, ok := strings.Cut(arg, "=")
		if ok && isSecret(strings.TrimLeft(name, "-")) {
			arg = name + "=" + redactedValue
		}
		out[i] = arg
	}
	return out
}
