package docstore

import (
	"context"
	"sync"
)

// MemBackend is a mutex-guarded in-memory Backend for tests and local
// development. Documents are snapshotted on the way in and out so callers
// can never alias stored state.
type MemBackend struct {
	mu   sync.RWMutex
	cols map[string]map[string]Doc
}

func NewMemBackend() *MemBackend {
	return &MemBackend{cols: make(map[string]map[string]Doc)}
}

func colKey(collection, parent string) string {
	return parent + "\x00" + collection
}

func (b *MemBackend) Put(_ context.Context, collection, parent, key string, doc Doc, merge bool) error {
	snapshot, err := deepCopy(doc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ck := colKey(collection, parent)
	col, ok := b.cols[ck]
	if !ok {
		col = make(map[string]Doc)
		b.cols[ck] = col
	}
	if merge {
		if existing, ok := col[key]; ok {
			for field, val := range snapshot {
				existing[field] = val
			}
			return nil
		}
	}
	col[key] = snapshot
	return nil
}

func (b *MemBackend) Get(_ context.Context, collection, parent, key string) (Doc, error) {
	b.mu.RLock()
	doc, ok := b.cols[colKey(collection, parent)][key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return deepCopy(doc)
}

func (b *MemBackend) Delete(_ context.Context, collection, parent, key string) error {
	b.mu.Lock()
	delete(b.cols[colKey(collection, parent)], key)
	b.mu.Unlock()
	return nil
}

func (b *MemBackend) Find(_ context.Context, collection, parent string, cond Condition) ([]Doc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var docs []Doc
	for _, doc := range b.cols[colKey(collection, parent)] {
		if cond.Match(doc) {
			snapshot, err := deepCopy(doc)
			if err != nil {
				return nil, err
			}
			docs = append(docs, snapshot)
		}
	}
	return docs, nil
}

func (b *MemBackend) Count(_ context.Context, collection, parent string, cond Condition) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, doc := range b.cols[colKey(collection, parent)] {
		if cond.Match(doc) {
			n++
		}
	}
	return n, nil
}
