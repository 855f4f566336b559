package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMasksSensitiveKeys(t *testing.T) {
	out := Redact(map[string]any{
		"name":         "vm-01",
		"password":     "hunter2",
		"old_password": "hunter1",
		"ssh_key":      "ssh-rsa AAAA...",
	})

	assert.Equal(t, "vm-01", out["name"])
	assert.Equal(t, MaskToken, out["password"])
	assert.Equal(t, MaskToken, out["old_password"])
	assert.Equal(t, MaskToken, out["ssh_key"])
}

func TestRedactDropsMarkerKeys(t *testing.T) {
	out := Redact(map[string]any{
		"name":  "vm-01",
		"_tx":   "internal",
		"raw_":  "internal",
		"count": 3,
	})

	assert.Contains(t, out, "name")
	assert.Contains(t, out, "count")
	assert.NotContains(t, out, "_tx")
	assert.NotContains(t, out, "raw_")
}

func TestRedactRecursesIntoNestedValues(t *testing.T) {
	out := Redact(map[string]any{
		"settings": map[string]any{
			"password": "nested-secret",
			"flavor":   "m1.small",
		},
		"lines": []any{
			map[string]any{"ssh_key": "ssh-ed25519 AAAA", "qty": 2},
		},
	})

	settings := out["settings"].(map[string]any)
	assert.Equal(t, MaskToken, settings["password"])
	assert.Equal(t, "m1.small", settings["flavor"])

	line := out["lines"].([]any)[0].(map[string]any)
	assert.Equal(t, MaskToken, line["ssh_key"])
	assert.Equal(t, 2, line["qty"])
}

func TestRedactEmptyInput(t *testing.T) {
	assert.Nil(t, Redact(nil))
	assert.Nil(t, Redact(map[string]any{"_only": 1}))
}
