package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("1234"))
	assert.Equal(t, "****7890", MaskSecret("DE44500105171234567890"))
}

func TestMaskSensitive(t *testing.T) {
	masked := MaskSensitive(map[string]any{
		"donor_name":  "Ada",
		"donor_email": "ada@example.org",
		"bank": map[string]any{
			"iban":   "DE44500105171234567890",
			"branch": "Main",
		},
		"cards": []any{"4111111111111111"},
		"":      "dropped",
	})

	assert.Equal(t, "Ada", masked["donor_name"])
	assert.Equal(t, "****.org", masked["donor_email"])
	assert.Equal(t, map[string]any{"iban": "****7890", "branch": "Main"}, masked["bank"])
	assert.Equal(t, []any{"****1111"}, masked["cards"])
	assert.NotContains(t, masked, "")
	assert.Nil(t, MaskSensitive(nil))
}
