// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package onboard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var threeCandidates = []Candidate{
	{ID: "proj-a"},
	{ID: "proj-b", HasGPU: true},
	{ID: "proj-c"},
}

// scriptedSelector returns a canned selection, standing in for the
// interactive prompt.
type scriptedSelector struct {
	answer string
}

func (s *scriptedSelector) Select(candidates []Candidate) ([]string, error) {
	return ParseSelection(s.answer, candidates), nil
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		expected []string
	}{
		{
			name:     "indexes",
			answer:   "1,3",
			expected: []string{"proj-a", "proj-c"},
		},
		{
			name:     "out of range index dropped",
			answer:   "5",
			expected: nil,
		},
		{
			name:     "mixed indexes and literals",
			answer:   "2, other-proj",
			expected: []string{"proj-b", "other-proj"},
		},
		{
			name:     "zero index dropped",
			answer:   "0,1",
			expected: []string{"proj-a"},
		},
		{
			name:     "empty answer",
			answer:   "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ParseSelection(tt.answer, threeCandidates))
		})
	}
}

func TestResolveSelectionPrecedence(t *testing.T) {
	t.Run("explicit list wins over everything", func(t *testing.T) {
		selection, err := ResolveSelection(
			[]string{"proj-x", "proj-y"}, true, threeCandidates, &scriptedSelector{answer: "1"})
		require.NoError(t, err)
		require.Equal(t, []string{"proj-x", "proj-y"}, selection)
	})

	t.Run("auto-run picks GPU candidates", func(t *testing.T) {
		selection, err := ResolveSelection(nil, true, threeCandidates, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"proj-b"}, selection)
	})

	t.Run("auto-run without GPUs falls back to first candidate", func(t *testing.T) {
		candidates := []Candidate{{ID: "proj-a"}, {ID: "proj-b"}}
		selection, err := ResolveSelection(nil, true, candidates, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"proj-a"}, selection)
	})

	t.Run("interactive selection used last", func(t *testing.T) {
		selection, err := ResolveSelection(nil, false, threeCandidates, &scriptedSelector{answer: "1,3"})
		require.NoError(t, err)
		require.Equal(t, []string{"proj-a", "proj-c"}, selection)
	})

	t.Run("empty interactive selection is fatal", func(t *testing.T) {
		_, err := ResolveSelection(nil, false, threeCandidates, &scriptedSelector{answer: "5"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "non-empty selection is required")
	})
}
