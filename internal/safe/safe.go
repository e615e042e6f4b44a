// internal/safe/safe.go
package safe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"strand/internal/content"
	serrors "strand/internal/errors"
	"strand/internal/metrics"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const metaPrefix = "blob:"

// ContentMeta stores metadata about stored content
type ContentMeta struct {
	Digest     content.Digest `json:"digest"`
	Size       int64          `json:"size"`
	StoredSize int64          `json:"stored_size"`
	Compressed bool           `json:"compressed"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Safe is the persistent content store: blob bytes live in files under
// root/ab/cdef..., their metadata in badger, and recently used blobs in an
// LRU cache.
type Safe struct {
	fs      afero.Fs
	root    string
	db      *badger.DB
	cache   *lru.Cache[content.Digest, []byte]
	comp    *compressionManager
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Options configures Safe behavior
type Options struct {
	Fs          afero.Fs // Defaults to the OS filesystem
	Root        string   // Root directory path
	CacheSize   int      // Number of items to cache
	Compression CompressionOptions
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

var _ content.Store = (*Safe)(nil)

// New creates a new Safe instance
func New(db *badger.DB, opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Compression.Level == 0 {
		opts.Compression = DefaultCompressionOptions()
	}

	if err := opts.Fs.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	cache, err := lru.New[content.Digest, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	comp, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compression manager: %w", err)
	}

	return &Safe{
		fs:      opts.Fs,
		root:    opts.Root,
		db:      db,
		cache:   cache,
		comp:    comp,
		logger:  opts.Logger,
		metrics: metrics.OrNew(opts.Metrics),
	}, nil
}

// Write stores data and returns its digest. Writing content that is already
// present only refreshes the cache.
func (s *Safe) Write(data []byte) (content.Digest, error) {
	if data == nil {
		data = []byte{}
	}
	digest := content.Hash(data)

	exists, err := s.Has(digest)
	if err != nil {
		return digest, fmt.Errorf("checking existence: %w", err)
	}
	if exists {
		return digest, nil
	}

	stored, compressed, err := s.comp.compress(data)
	if err != nil {
		return digest, fmt.Errorf("compressing content: %w", err)
	}

	path := s.contentPath(digest)
	if err := s.writeFile(path, stored); err != nil {
		return digest, err
	}

	meta := ContentMeta{
		Digest:     digest,
		Size:       int64(len(data)),
		StoredSize: int64(len(stored)),
		Compressed: compressed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.storeMeta(meta); err != nil {
		_ = s.fs.Remove(path)
		return digest, fmt.Errorf("storing metadata: %w", err)
	}

	s.cache.Add(digest, data)
	s.logger.Debug("stored blob",
		zap.String("digest", digest.Short(12)),
		zap.Int64("size", meta.Size),
		zap.Bool("compressed", meta.Compressed))
	return digest, nil
}

// writeFile writes through a temporary file so a concurrent reader never
// sees a partial blob.
func (s *Safe) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating content directory: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("writing content file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("closing content file: %w", err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("renaming content file: %w", err)
	}
	return nil
}

// Read retrieves content by digest and verifies it.
func (s *Safe) Read(digest content.Digest) ([]byte, error) {
	if data, ok := s.cache.Get(digest); ok {
		s.metrics.CacheHits.WithLabelValues("blob").Inc()
		return data, nil
	}
	s.metrics.CacheMisses.WithLabelValues("blob").Inc()

	meta, err := s.getMeta(digest)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.contentPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, serrors.Corrupt(fmt.Sprintf("blob %s has metadata but no content file", digest.Short(12)), err)
		}
		return nil, fmt.Errorf("reading content: %w", err)
	}

	if meta.Compressed {
		data, err = s.comp.decompress(data)
		if err != nil {
			return nil, serrors.Corrupt(fmt.Sprintf("decompressing blob %s", digest.Short(12)), err)
		}
	}

	if content.Hash(data) != digest {
		return nil, serrors.Corrupt(fmt.Sprintf("blob %s failed verification", digest.Short(12)), nil)
	}

	s.cache.Add(digest, data)
	return data, nil
}

// Has checks if content exists
func (s *Safe) Has(digest content.Digest) (bool, error) {
	if s.cache.Contains(digest) {
		return true, nil
	}

	_, err := s.getMeta(digest)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Verify re-reads a blob from disk, bypassing the cache.
func (s *Safe) Verify(digest content.Digest) error {
	s.cache.Remove(digest)
	_, err := s.Read(digest)
	return err
}

// Stats summarizes what the safe holds.
type Stats struct {
	Blobs      int
	Size       int64
	StoredSize int64
	Compressed int
}

func (s *Safe) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta ContentMeta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return err
			}
			st.Blobs++
			st.Size += meta.Size
			st.StoredSize += meta.StoredSize
			if meta.Compressed {
				st.Compressed++
			}
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("collecting stats: %w", err)
	}
	return st, nil
}

// Close releases the pooled encoders.
func (s *Safe) Close() error {
	s.comp.close()
	return nil
}

// Internal helper functions

func (s *Safe) contentPath(digest content.Digest) string {
	hash := digest.String()
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func metaKey(digest content.Digest) []byte {
	return []byte(metaPrefix + digest.String())
}

func (s *Safe) storeMeta(meta ContentMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.Digest), data)
	})
}

func (s *Safe) getMeta(digest content.Digest) (ContentMeta, error) {
	var meta ContentMeta

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(digest))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("reading %s: %w", digest.Short(12), content.ErrNotFound)
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})

	return meta, err
}
