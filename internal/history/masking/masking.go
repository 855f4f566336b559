// Package masking redacts audit snapshots before they are persisted.
package masking

import "strings"

const (
	// MaskToken replaces every sensitive value verbatim; no length or
	// suffix hints survive into the audit trail.
	MaskToken = "****"

	// marker flags internal bookkeeping keys. A key that starts or ends
	// with it is dropped from the snapshot entirely.
	marker = "_"
)

// sensitiveKeys are always masked, wherever they appear in the snapshot.
var sensitiveKeys = map[string]struct{}{
	"password":     {},
	"old_password": {},
	"new_password": {},
	"ssh_key":      {},
	"token":        {},
	"secret":       {},
}

// Redact returns a deep copy of input safe to persist: sensitive keys
// carry MaskToken instead of their value and marker keys are absent.
func Redact(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		if key == "" || isInternal(key) {
			continue
		}
		if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
			out[key] = MaskToken
			continue
		}
		out[key] = redactValue(value)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func redactValue(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return Redact(cast)
	case []any:
		items := make([]any, 0, len(cast))
		for _, item := range cast {
			items = append(items, redactValue(item))
		}
		return items
	default:
		return value
	}
}

func isInternal(key string) bool {
	return strings.HasPrefix(key, marker) || strings.HasSuffix(key, marker)
}
