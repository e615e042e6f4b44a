package content

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	c := Hash([]byte("world"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a.String(), 128)
	assert.Equal(t, a.String()[:8], a.Short(8))
	assert.True(t, Digest{}.IsZero())
	assert.Equal(t, "00000000", Digest{}.Short(8))

	parsed, err := ParseDigest(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseDigest("abc")
	assert.Error(t, err)

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(map[string]Digest{"x": a})
		require.NoError(t, err)
		var out map[string]Digest
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, a, out["x"])
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	t.Run("round trip", func(t *testing.T) {
		d, err := s.Write([]byte("content"))
		require.NoError(t, err)
		assert.Equal(t, Hash([]byte("content")), d)

		data, err := s.Read(d)
		require.NoError(t, err)
		assert.Equal(t, []byte("content"), data)

		ok, err := s.Has(d)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("idempotent", func(t *testing.T) {
		before := s.Len()
		_, err := s.Write([]byte("content"))
		require.NoError(t, err)
		assert.Equal(t, before, s.Len())
	})

	t.Run("empty blob", func(t *testing.T) {
		d, err := s.Write(nil)
		require.NoError(t, err)
		data, err := s.Read(d)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.Read(Hash([]byte("never written")))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Write([]byte(fmt.Sprintf("blob-%d", i%4)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		for i := 0; i < 4; i++ {
			ok, err := s.Has(Hash([]byte(fmt.Sprintf("blob-%d", i))))
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
}
