// internal/storage/badger_store.go
package storage

import (
    "encoding/json"
    stderrors "errors"
    "fmt"
    "strings"

    "strand/internal/errors"

    "github.com/dgraph-io/badger/v4"
)

// Entity represents any storable entity with an ID
type Entity interface {
    GetID() string
}

// BadgerStore keeps JSON-encoded entities of one kind under "prefix:id".
type BadgerStore[T Entity] struct {
    db     *badger.DB
    prefix string
}

func NewBadgerStore[T Entity](db *badger.DB, prefix string) *BadgerStore[T] {
    return &BadgerStore[T]{
        db:     db,
        prefix: prefix,
    }
}

func (s *BadgerStore[T]) makeKey(id string) []byte {
    return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore[T]) stripPrefix(key []byte) string {
    return strings.TrimPrefix(string(key), fmt.Sprintf("%s:", s.prefix))
}

// Put creates or replaces entity.
func (s *BadgerStore[T]) Put(entity T) error {
    if entity.GetID() == "" {
        return fmt.Errorf("entity ID cannot be empty")
    }

    data, err := json.Marshal(entity)
    if err != nil {
        return fmt.Errorf("marshaling entity: %w", err)
    }

    return s.db.Update(func(txn *badger.Txn) error {
        return txn.Set(s.makeKey(entity.GetID()), data)
    })
}

func (s *BadgerStore[T]) Get(id string, entity T) error {
    err := s.db.View(func(txn *badger.Txn) error {
        return s.get(txn, id, entity)
    })
    if err == badger.ErrKeyNotFound {
        return errors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
    }
    return err
}

func (s *BadgerStore[T]) get(txn *badger.Txn, id string, entity T) error {
    item, err := txn.Get(s.makeKey(id))
    if err != nil {
        return err
    }
    return item.Value(func(val []byte) error {
        return json.Unmarshal(val, entity)
    })
}

// Modify reads the entity stored under id into cur, lets fn update it and
// writes it back in one transaction. found reports whether id existed. A
// concurrent writer touching the same key makes Modify fail with a
// concurrent-modification error instead of silently overwriting.
func (s *BadgerStore[T]) Modify(id string, cur T, fn func(found bool) error) error {
    err := s.db.Update(func(txn *badger.Txn) error {
        err := s.get(txn, id, cur)
        found := err == nil
        if err != nil && err != badger.ErrKeyNotFound {
            return err
        }

        if err := fn(found); err != nil {
            return err
        }

        data, err := json.Marshal(cur)
        if err != nil {
            return fmt.Errorf("marshaling entity: %w", err)
        }
        return txn.Set(s.makeKey(id), data)
    })
    if stderrors.Is(err, badger.ErrConflict) {
        return errors.ConcurrentModification(fmt.Sprintf("%s %s was modified concurrently", s.prefix, id))
    }
    return err
}

func (s *BadgerStore[T]) Delete(id string) error {
    key := s.makeKey(id)

    return s.db.Update(func(txn *badger.Txn) error {
        // Check if exists
        _, err := txn.Get(key)
        if err == badger.ErrKeyNotFound {
            return errors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
        } else if err != nil {
            return err
        }

        return txn.Delete(key)
    })
}

// IDs lists the ids of every stored entity in key order.
func (s *BadgerStore[T]) IDs() ([]string, error) {
    var ids []string
    err := s.db.View(func(txn *badger.Txn) error {
        opts := badger.DefaultIteratorOptions
        opts.PrefetchValues = false
        it := txn.NewIterator(opts)
        defer it.Close()

        prefix := []byte(s.prefix + ":")
        for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
            ids = append(ids, s.stripPrefix(it.Item().Key()))
        }
        return nil
    })
    if err != nil {
        return nil, fmt.Errorf("listing entities: %w", err)
    }
    return ids, nil
}
