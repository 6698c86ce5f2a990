package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecklistCompletion(t *testing.T) {
	require.Equal(t, 0.0, ChecklistCompletion(0, 0))
	require.Equal(t, 0.0, ChecklistCompletion(0, 4))
	require.Equal(t, 50.0, ChecklistCompletion(2, 4))
	require.Equal(t, 100.0, ChecklistCompletion(4, 4))
}

func TestFieldCompletion(t *testing.T) {
	// A state without visible fields counts as complete.
	require.Equal(t, 1.0, FieldCompletion(0, 0))
	require.Equal(t, 0.0, FieldCompletion(0, 3))
	require.InDelta(t, 0.667, FieldCompletion(2, 3), 0.001)
}
