package storage

import (
    "testing"

    "strand/internal/errors"

    "github.com/dgraph-io/badger/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type record struct {
    ID    string   `json:"id"`
    Items []string `json:"items"`
}

func (r *record) GetID() string { return r.ID }

func setupTestDB(t *testing.T) *badger.DB {
    opts := badger.DefaultOptions("").WithInMemory(true)
    opts.Logger = nil // Disable logging for tests

    db, err := badger.Open(opts)
    require.NoError(t, err)
    t.Cleanup(func() { db.Close() })
    return db
}

func TestBadgerStore(t *testing.T) {
    store := NewBadgerStore[*record](setupTestDB(t), "rec")

    t.Run("Put and Get", func(t *testing.T) {
        require.NoError(t, store.Put(&record{ID: "a", Items: []string{"x"}}))

        var got record
        require.NoError(t, store.Get("a", &got))
        assert.Equal(t, []string{"x"}, got.Items)
    })

    t.Run("Get missing", func(t *testing.T) {
        var got record
        err := store.Get("missing", &got)
        assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))
    })

    t.Run("empty ID", func(t *testing.T) {
        assert.Error(t, store.Put(&record{}))
    })

    t.Run("Modify", func(t *testing.T) {
        var cur record
        err := store.Modify("b", &cur, func(found bool) error {
            assert.False(t, found)
            cur.ID = "b"
            cur.Items = append(cur.Items, "first")
            return nil
        })
        require.NoError(t, err)

        var again record
        err = store.Modify("b", &again, func(found bool) error {
            assert.True(t, found)
            again.Items = append(again.Items, "second")
            return nil
        })
        require.NoError(t, err)

        var got record
        require.NoError(t, store.Get("b", &got))
        assert.Equal(t, []string{"first", "second"}, got.Items)
    })

    t.Run("Modify aborts on error", func(t *testing.T) {
        var cur record
        err := store.Modify("b", &cur, func(bool) error {
            cur.Items = nil
            return errors.ValidationError("nope", nil)
        })
        assert.Error(t, err)

        var got record
        require.NoError(t, store.Get("b", &got))
        assert.Len(t, got.Items, 2)
    })

    t.Run("IDs and Delete", func(t *testing.T) {
        ids, err := store.IDs()
        require.NoError(t, err)
        assert.Equal(t, []string{"a", "b"}, ids)

        require.NoError(t, store.Delete("a"))
        assert.Error(t, store.Delete("a"))

        ids, err = store.IDs()
        require.NoError(t, err)
        assert.Equal(t, []string{"b"}, ids)
    })
}
