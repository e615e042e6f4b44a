package fileset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strand/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		cwd      string
		patterns []string
		matches  []string
		rejects  []string
	}{
		{
			name:    "empty matches everything",
			matches: []string{"a", "dir/b"},
		},
		{
			name:     "file path",
			patterns: []string{"file_1"},
			matches:  []string{"file_1"},
			rejects:  []string{"file_2", "file_10"},
		},
		{
			name:     "directory path",
			patterns: []string{"dir/"},
			matches:  []string{"dir/a", "dir/sub/b"},
			rejects:  []string{"dirt", "other/dir/a"},
		},
		{
			name:     "relative to cwd",
			cwd:      "sub",
			patterns: []string{"x", "../top"},
			matches:  []string{"sub/x", "top"},
			rejects:  []string{"x"},
		},
		{
			name:     "glob",
			patterns: []string{"glob:src/*.go"},
			matches:  []string{"src/main.go"},
			rejects:  []string{"src/pkg/main.go", "main.go"},
		},
		{
			name:     "recursive glob",
			patterns: []string{"glob:**.md"},
			matches:  []string{"README.md", "docs/a/b.md"},
			rejects:  []string{"main.go"},
		},
		{
			name:     "dot is everything",
			patterns: []string{"."},
			matches:  []string{"anything/at/all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.cwd, tt.patterns...)
			require.NoError(t, err)
			for _, p := range tt.matches {
				assert.True(t, s.Matches(p), p)
			}
			for _, p := range tt.rejects {
				assert.False(t, s.Matches(p), p)
			}
		})
	}
}

func TestVisit(t *testing.T) {
	s := MustParse("a/b/c", "glob:docs/**.md")

	assert.True(t, s.Visit("a"))
	assert.True(t, s.Visit("a/b"))
	assert.True(t, s.Visit("a/b/c/d"))
	assert.False(t, s.Visit("a/x"))
	assert.True(t, s.Visit("docs"))
	assert.True(t, s.Visit("docs/deep"))
	assert.False(t, s.Visit("src"))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("", "../outside")
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))

	_, err = Parse("", "glob:[")
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))
}
