package slug

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"simple", "Auditoria", 12, "AUDITORIA"},
		{"spaces dropped", "No Conformidad", 12, "NOCONFORMIDA"},
		{"accents folded", "Inspección", 12, "INSPECCION"},
		{"mixed punctuation", "Plan - Anual (2025)", 20, "PLANANUAL2025"},
		{"empty", "", 12, ""},
		{"only symbols", "---", 12, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Make(tt.input, tt.maxLen))
		})
	}
}
