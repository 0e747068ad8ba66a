package store

import "encoding/json"

// JSONStore wraps a Store with typed JSON marshaling, for persisting a Go
// struct rather than a raw byte blob. No other package of this module
// uses it; cmd/peermeshd stores raw bytes through Store directly.
type JSONStore struct {
	Store
}

// NewJSONStore wraps an existing Store.
func NewJSONStore(s Store) JSONStore {
	return JSONStore{Store: s}
}

// PutJSON marshals v and stores it under key.
func (j JSONStore) PutJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return j.Put(key, raw)
}

// GetJSON loads key and unmarshals it into v. Returns ErrNotFound if
// absent, same as the underlying Store.
func (j JSONStore) GetJSON(key string, v interface{}) error {
	raw, err := j.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ListPrefixJSON loads every value under prefix and unmarshals each into
// a new instance produced by newFn, returning them keyed by their
// original key.
func ListPrefixJSON[T any](j JSONStore, prefix string, newFn func() T) (map[string]T, error) {
	raw, err := j.ListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for k, v := range raw {
		item := newFn()
		if err := json.Unmarshal(v, &item); err != nil {
			return nil, err
		}
		out[k] = item
	}
	return out, nil
}
