package safe

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"strand/internal/content"
	serrors "strand/internal/errors"
	"strand/internal/metrics"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupSafe(t *testing.T) (*Safe, afero.Fs, *metrics.Metrics) {
	fs := afero.NewMemMapFs()
	m := metrics.New()
	s, err := New(setupTestDB(t), Options{
		Fs:        fs,
		Root:      "/repo/.strand/store",
		CacheSize: 16,
		Metrics:   m,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, fs, m
}

func TestSafe(t *testing.T) {
	s, fs, m := setupSafe(t)

	t.Run("round trip", func(t *testing.T) {
		d, err := s.Write([]byte("file contents"))
		require.NoError(t, err)
		assert.Equal(t, content.Hash([]byte("file contents")), d)

		data, err := s.Read(d)
		require.NoError(t, err)
		assert.Equal(t, []byte("file contents"), data)

		exists, err := afero.Exists(fs, s.contentPath(d))
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, filepath.Join("/repo/.strand/store", d.String()[:2], d.String()[2:]), s.contentPath(d))
	})

	t.Run("large blobs are compressed", func(t *testing.T) {
		big := bytes.Repeat([]byte("line of repetitive text\n"), 1000)
		d, err := s.Write(big)
		require.NoError(t, err)

		raw, err := afero.ReadFile(fs, s.contentPath(d))
		require.NoError(t, err)
		assert.Less(t, len(raw), len(big))

		s.cache.Purge()
		data, err := s.Read(d)
		require.NoError(t, err)
		assert.Equal(t, big, data)

		st, err := s.Stats()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.Compressed, 1)
	})

	t.Run("writes are idempotent", func(t *testing.T) {
		before, err := s.Stats()
		require.NoError(t, err)
		_, err = s.Write([]byte("file contents"))
		require.NoError(t, err)
		after, err := s.Stats()
		require.NoError(t, err)
		assert.Equal(t, before.Blobs, after.Blobs)
	})

	t.Run("missing digest", func(t *testing.T) {
		_, err := s.Read(content.Hash([]byte("nope")))
		assert.ErrorIs(t, err, content.ErrNotFound)

		ok, err := s.Has(content.Hash([]byte("nope")))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("tampered file is corrupt", func(t *testing.T) {
		d, err := s.Write([]byte("original"))
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, s.contentPath(d), []byte("tampered"), 0644))

		err = s.Verify(d)
		assert.True(t, serrors.HasType(err, serrors.ErrorTypeCorrupt))
	})

	t.Run("missing file is corrupt", func(t *testing.T) {
		d, err := s.Write([]byte("will vanish"))
		require.NoError(t, err)
		require.NoError(t, fs.Remove(s.contentPath(d)))
		s.cache.Purge()

		_, err = s.Read(d)
		assert.True(t, serrors.HasType(err, serrors.ErrorTypeCorrupt))
	})

	t.Run("cache metrics", func(t *testing.T) {
		d, err := s.Write([]byte("cached"))
		require.NoError(t, err)
		hits := testutil.ToFloat64(m.CacheHits.WithLabelValues("blob"))
		_, err = s.Read(d)
		require.NoError(t, err)
		assert.Equal(t, hits+1, testutil.ToFloat64(m.CacheHits.WithLabelValues("blob")))
	})
}

func TestSafeConcurrentWrites(t *testing.T) {
	s, _, _ := setupSafe(t)

	blobs := [][]byte{[]byte("a"), []byte("b"), bytes.Repeat([]byte("c"), 4096)}
	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Write(blobs[i%len(blobs)])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s.cache.Purge()
	for _, b := range blobs {
		data, err := s.Read(content.Hash(b))
		require.NoError(t, err)
		assert.Equal(t, b, data)
	}
}

func TestCompressionManager(t *testing.T) {
	cm, err := newCompressionManager(CompressionOptions{MinSize: 8, Level: 1, StreamingThreshold: 64})
	require.NoError(t, err)
	defer cm.close()

	small, compressed, err := cm.compress([]byte("tiny"))
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, []byte("tiny"), small)

	big := bytes.Repeat([]byte("abcdefgh"), 100)
	out, compressed, err := cm.compress(big)
	require.NoError(t, err)
	require.True(t, compressed)

	back, err := cm.decompress(out)
	require.NoError(t, err)
	assert.Equal(t, big, back)

	_, err = cm.decompress([]byte("not zstd"))
	assert.Error(t, err)
}
