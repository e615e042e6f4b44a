package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(nil))
	assert.Equal(t, [][]byte{[]byte("a\n"), []byte("b")}, SplitLines([]byte("a\nb")))
	assert.Equal(t, [][]byte{[]byte("a\n"), []byte("\n")}, SplitLines([]byte("a\n\n")))
}

func TestLines(t *testing.T) {
	script := Lines([]byte("a\nb\nc\n"), []byte("a\nx\nc\nd\n"))

	var rendered []string
	for _, l := range script {
		rendered = append(rendered, l.Prefix()+l.Content)
	}
	assert.Equal(t, []string{" a", "-b", "+x", " c", "+d"}, rendered)
	assert.Equal(t, 2, script[1].OldNum)
	assert.Equal(t, 2, script[2].NewNum)
}

func TestEngineDiff(t *testing.T) {
	engine := NewEngine(1)

	t.Run("single change with context", func(t *testing.T) {
		old := "1\n2\n3\n4\n5\n6\n7\n"
		new := "1\n2\n3\nfour\n5\n6\n7\n"
		result, err := engine.Diff([]byte(old), []byte(new))
		require.NoError(t, err)

		require.Len(t, result.Hunks, 1)
		h := result.Hunks[0]
		assert.Equal(t, 3, h.OldStart)
		assert.Equal(t, 3, h.OldLines)
		assert.Equal(t, 3, h.NewLines)
		assert.Equal(t, 1, result.Stats.Additions)
		assert.Equal(t, 1, result.Stats.Deletions)
		assert.Equal(t, 2, result.Stats.Changes)

		assert.Equal(t, "@@ -3,3 +3,3 @@\n 3\n-4\n+four\n 5\n", result.Format())
	})

	t.Run("distant changes make separate hunks", func(t *testing.T) {
		old := strings.Repeat("same\n", 3) + "a\n" + strings.Repeat("same\n", 5) + "b\n"
		new := strings.Repeat("same\n", 3) + "A\n" + strings.Repeat("same\n", 5) + "B\n"
		result, err := engine.Diff([]byte(old), []byte(new))
		require.NoError(t, err)
		assert.Len(t, result.Hunks, 2)
	})

	t.Run("new file", func(t *testing.T) {
		result, err := engine.Diff(nil, []byte("x\ny\n"))
		require.NoError(t, err)
		require.Len(t, result.Hunks, 1)
		assert.Equal(t, "@@ -0,0 +1,2 @@\n+x\n+y\n", result.Format())
	})

	t.Run("identical", func(t *testing.T) {
		result, err := engine.Diff([]byte("same\n"), []byte("same\n"))
		require.NoError(t, err)
		assert.Empty(t, result.Hunks)
		assert.Empty(t, result.Format())
	})
}

func TestMerge3(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\n"

	tests := []struct {
		name   string
		left   string
		right  string
		want   string
		merged bool
	}{
		{
			name:   "disjoint edits",
			left:   "ONE\ntwo\nthree\nfour\nfive\n",
			right:  "one\ntwo\nthree\nfour\nFIVE\n",
			want:   "ONE\ntwo\nthree\nfour\nFIVE\n",
			merged: true,
		},
		{
			name:   "same edit on both sides",
			left:   "one\nTWO\nthree\nfour\nfive\n",
			right:  "one\nTWO\nthree\nfour\nfive\n",
			want:   "one\nTWO\nthree\nfour\nfive\n",
			merged: true,
		},
		{
			name:   "insertion and deletion",
			left:   "zero\none\ntwo\nthree\nfour\nfive\n",
			right:  "one\ntwo\nfour\nfive\n",
			want:   "zero\none\ntwo\nfour\nfive\n",
			merged: true,
		},
		{
			name:   "overlapping edits",
			left:   "one\nleft\nthree\nfour\nfive\n",
			right:  "one\nright\nthree\nfour\nfive\n",
			merged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Merge3([]byte(base), []byte(tt.left), []byte(tt.right))
			assert.Equal(t, tt.merged, ok)
			if tt.merged {
				assert.Equal(t, tt.want, string(got))
			}
		})
	}

	t.Run("single line files", func(t *testing.T) {
		_, ok := Merge3([]byte("initial contents"), []byte("Child 1"), []byte("Child 2"))
		assert.False(t, ok)
	})
}
