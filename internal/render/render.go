// Package render turns a docker-compose template into a concrete descriptor.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DescriptorFile is the file name the rendered descriptor is written to.
const DescriptorFile = "docker-compose.yml"

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// MissingVariableError is returned when a placeholder has no matching variable.
type MissingVariableError struct {
	Key string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("variable %q is not defined for this stage", e.Key)
}

// Render substitutes every {{key}} placeholder in template with the matching
// entry of vars and prefixes the result with a generated-file banner.
//
// Keys are whitespace-trimmed. Substitution is a single left-to-right pass, so
// substituted values are never rescanned. The first unresolved key aborts
// rendering with a *MissingVariableError.
func Render(template string, vars map[string]any, now time.Time) (string, error) {
	var missing *MissingVariableError
	body := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if missing != nil {
			return match
		}
		key := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		value, ok := vars[key]
		if !ok {
			missing = &MissingVariableError{Key: key}
			return match
		}
		return FormatScalar(value)
	})
	if missing != nil {
		return "", missing
	}
	return Banner(now) + "\n" + body, nil
}

// Banner returns the three comment lines that mark a descriptor as generated.
func Banner(now time.Time) string {
	return "# This file was generated by webxuker. Do not edit it by hand.\n" +
		"# Generated at " + now.UTC().Format(time.RFC1123) + "\n" +
		"# Changes are overwritten on the next deployment.\n"
}

// FormatScalar renders a configuration variable as template text.
func FormatScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
