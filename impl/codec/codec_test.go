package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint_ValidatesAndIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := Mint()
		require.NoError(t, err)
		require.True(t, Validate(id), "minted id %q must validate", id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"empty", "", false},
		{"short", "abc123", false},
		{"long", strings.Repeat("a", IdLength+1), false},
		{"exact", strings.Repeat("aZ9", 7) + "x", true},
		{"dash", strings.Repeat("a", IdLength-1) + "-", false},
		{"unicode", strings.Repeat("a", IdLength-2) + "é", false},
		{"base64 padding", strings.Repeat("a", IdLength-1) + "=", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.candidate))
		})
	}
}
