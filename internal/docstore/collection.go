package docstore

import (
	"context"
	"encoding/json"
)

// Collection is a typed handle binding one collection name to one record
// shape. The set of valid (name, type) pairs is the closed registry declared
// in the model package; constructing handles anywhere else is a bug.
type Collection[T any] struct {
	name   string
	parent string
	store  *Store
}

func NewCollection[T any](s *Store, name string) Collection[T] {
	return Collection[T]{name: name, store: s}
}

// Under rescopes the handle to the subcollection of the given parent document
// path, e.g. Under("/meetings/"+key) for that meeting's check-ins. The
// unscoped handle addresses the top-level collection of the same name.
func (c Collection[T]) Under(parentPath string) Collection[T] {
	c.parent = parentPath
	return c
}

// Name returns the collection name the handle is bound to.
func (c Collection[T]) Name() string { return c.name }

func (c Collection[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	doc, err := toDoc(rec)
	if err != nil {
		return zero, err
	}
	out, err := c.store.Create(ctx, c.name, c.parent, doc)
	if err != nil {
		return zero, err
	}
	return fromDoc[T](out)
}

// Get returns (nil, nil) when the key does not exist.
func (c Collection[T]) Get(ctx context.Context, key string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, c.parent, key)
	if err != nil || doc == nil {
		return nil, err
	}
	rec, err := fromDoc[T](doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetCached is Get served from the local cache only; a miss is ErrUnavailable.
func (c Collection[T]) GetCached(ctx context.Context, key string) (*T, error) {
	doc, err := c.store.GetCached(ctx, c.name, c.parent, key)
	if err != nil {
		return nil, err
	}
	rec, err := fromDoc[T](doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update merge-writes only the supplied fields.
func (c Collection[T]) Update(ctx context.Context, key string, partial Doc) error {
	return c.store.Update(ctx, c.name, c.parent, key, partial)
}

func (c Collection[T]) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.name, c.parent, key)
}

func (c Collection[T]) Find(ctx context.Context, cond Condition) ([]T, error) {
	docs, err := c.store.Find(ctx, c.name, c.parent, cond)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromDoc[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c Collection[T]) Count(ctx context.Context, cond Condition) (int64, error) {
	return c.store.Count(ctx, c.name, c.parent, cond)
}

func (c Collection[T]) Stream(ctx context.Context, cond Condition, onChange func([]T)) (func(), error) {
	return c.store.Stream(ctx, c.name, c.parent, cond, func(docs []Doc) {
		recs := make([]T, 0, len(docs))
		for _, doc := range docs {
			rec, err := fromDoc[T](doc)
			if err != nil {
				c.store.log.Error().Err(err).Str("collection", c.name).Msg("stream decode failed")
				return
			}
			recs = append(recs, rec)
		}
		onChange(recs)
	})
}

func toDoc(rec any) (Doc, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Doc{}
	}
	return doc, nil
}

func fromDoc[T any](doc Doc) (T, error) {
	var rec T
	raw, err := json.Marshal(doc)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(raw, &rec)
	return rec, err
}
