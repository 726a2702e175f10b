package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rollcall/internal/errs"
	"rollcall/internal/metrics"
)

// Doc is a decoded document: what JSON unmarshals a JSONB object into.
type Doc = map[string]any

// KeyField is the identity field every persisted record carries. Absent on
// create, the store allocates it; present, the write is an upsert at that key.
const KeyField = "key"

// Root addresses a top-level collection (no parent document).
const Root = ""

// Backend is the storage engine under a Store. Get returns (nil, nil) when
// the key is absent.
type Backend interface {
	Put(ctx context.Context, collection, parent, key string, doc Doc, merge bool) error
	Get(ctx context.Context, collection, parent, key string) (Doc, error)
	Delete(ctx context.Context, collection, parent, key string) error
	Find(ctx context.Context, collection, parent string, cond Condition) ([]Doc, error)
	Count(ctx context.Context, collection, parent string, cond Condition) (int64, error)
}

// Store provides generic persistence over named collections, optionally
// nested under a parent document path. One Store is constructed at process
// start and injected into every component that needs it.
type Store struct {
	backend  Backend
	cache    Cache
	notifier Notifier
	hub      *hub
	log      zerolog.Logger
}

type Option func(*Store)

func WithCache(c Cache) Option           { return func(s *Store) { s.cache = c } }
func WithNotifier(n Notifier) Option     { return func(s *Store) { s.notifier = n } }
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s)
	if s.notifier != nil {
		s.notifier.Subscribe(s.hub.notify)
	}
	return s
}

// normalizeParent validates a parent document path such as "/meetings/{key}"
// and returns its canonical slash-joined form. Paths must hold alternating
// collection/key segments, at any depth.
func normalizeParent(parentPath string) (string, error) {
	p := strings.Trim(parentPath, "/")
	if p == "" {
		return "", nil
	}
	parts := strings.Split(p, "/")
	if len(parts)%2 != 0 {
		return "", errs.NewValidation("parentPath", fmt.Sprintf("%q does not address a document", parentPath))
	}
	for _, part := range parts {
		if part == "" {
			return "", errs.NewValidation("parentPath", fmt.Sprintf("%q has an empty segment", parentPath))
		}
	}
	return strings.Join(parts, "/"), nil
}

func docPath(collection, parent, key string) string {
	if parent == "" {
		return collection + "/" + key
	}
	return parent + "/" + collection + "/" + key
}

// Create persists a deep-copied snapshot of doc. When doc carries no key a
// fresh one is allocated and present in the returned document; otherwise the
// write is an upsert at that key.
func (s *Store) Create(ctx context.Context, collection, parentPath string, doc Doc) (Doc, error) {
	start := time.Now()
	out, err := s.create(ctx, collection, parentPath, doc)
	metrics.ObserveOp("create", collection, start, err)
	if err != nil {
		s.log.Error().Err(err).Str("collection", collection).Msg("create failed")
	}
	return out, err
}

func (s *Store) create(ctx context.Context, collection, parentPath string, doc Doc) (Doc, error) {
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return nil, err
	}
	snapshot, err := deepCopy(doc)
	if err != nil {
		return nil, err
	}
	key, _ := snapshot[KeyField].(string)
	if key == "" {
		key = uuid.NewString()
		snapshot[KeyField] = key
	}
	if err := s.backend.Put(ctx, collection, parent, key, snapshot, false); err != nil {
		return nil, err
	}
	s.cacheSet(ctx, docPath(collection, parent, key), snapshot)
	s.changed(ctx, collection, parent)
	return snapshot, nil
}

// Get is a point lookup; it returns (nil, nil) when the key does not exist.
func (s *Store) Get(ctx context.Context, collection, parentPath, key string) (Doc, error) {
	start := time.Now()
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return nil, err
	}
	doc, err := s.backend.Get(ctx, collection, parent, key)
	metrics.ObserveOp("get", collection, start, err)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		s.cacheSet(ctx, docPath(collection, parent, key), doc)
	}
	return doc, nil
}

// GetCached serves the lookup from the local cache only and reports
// ErrUnavailable on a miss; it never reaches the backend.
func (s *Store) GetCached(ctx context.Context, collection, parentPath, key string) (Doc, error) {
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		return nil, errs.Unavailablef("no cache configured")
	}
	doc, ok, err := s.cache.Get(ctx, docPath(collection, parent, key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	if !ok {
		return nil, errs.Unavailablef("%s not in cache", docPath(collection, parent, key))
	}
	return doc, nil
}

// Update merge-writes partial: fields present overwrite, fields absent are
// left untouched. The document is created if it does not exist.
func (s *Store) Update(ctx context.Context, collection, parentPath, key string, partial Doc) error {
	start := time.Now()
	err := s.update(ctx, collection, parentPath, key, partial)
	metrics.ObserveOp("update", collection, start, err)
	if err != nil {
		s.log.Error().Err(err).Str("collection", collection).Str("key", key).Msg("update failed")
	}
	return err
}

func (s *Store) update(ctx context.Context, collection, parentPath, key string, partial Doc) error {
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return err
	}
	snapshot, err := deepCopy(partial)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, collection, parent, key, snapshot, true); err != nil {
		return err
	}
	s.cacheDrop(ctx, docPath(collection, parent, key))
	s.changed(ctx, collection, parent)
	return nil
}

// Delete removes the document. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, collection, parentPath, key string) error {
	start := time.Now()
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return err
	}
	err = s.backend.Delete(ctx, collection, parent, key)
	metrics.ObserveOp("delete", collection, start, err)
	if err != nil {
		s.log.Error().Err(err).Str("collection", collection).Str("key", key).Msg("delete failed")
		return err
	}
	s.cacheDrop(ctx, docPath(collection, parent, key))
	s.changed(ctx, collection, parent)
	return nil
}

// Find returns every document matching cond; an empty sequence when nothing
// matches.
func (s *Store) Find(ctx context.Context, collection, parentPath string, cond Condition) ([]Doc, error) {
	start := time.Now()
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return nil, err
	}
	docs, err := s.backend.Find(ctx, collection, parent, cond)
	metrics.ObserveOp("find", collection, start, err)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Doc{}
	}
	return docs, nil
}

// Count is a server-side count; matching documents are not transferred.
func (s *Store) Count(ctx context.Context, collection, parentPath string, cond Condition) (int64, error) {
	start := time.Now()
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return 0, err
	}
	n, err := s.backend.Count(ctx, collection, parent, cond)
	metrics.ObserveOp("count", collection, start, err)
	return n, err
}

// Stream registers a live subscription. onChange fires once with the current
// matching set and again whenever a write changes that set. The returned
// cancel func tears the subscription down; no callback runs after it returns.
func (s *Store) Stream(ctx context.Context, collection, parentPath string, cond Condition, onChange func([]Doc)) (func(), error) {
	parent, err := normalizeParent(parentPath)
	if err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, collection, parent, cond, onChange)
}

func (s *Store) cacheSet(ctx context.Context, path string, doc Doc) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, path, doc); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("cache set failed")
	}
}

func (s *Store) cacheDrop(ctx context.Context, path string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("cache invalidate failed")
	}
}

// changed fans a mutation out to local subscribers and, when configured, to
// peer processes. Both paths are advisory; failures never fail the write.
func (s *Store) changed(ctx context.Context, collection, parent string) {
	s.hub.notify(Event{Collection: collection, Parent: parent})
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, Event{Collection: collection, Parent: parent}); err != nil {
			s.log.Warn().Err(err).Str("collection", collection).Msg("change publish failed")
		}
	}
}

// deepCopy produces the serializable write snapshot: later mutation of the
// caller's object cannot retroactively alter what was persisted.
func deepCopy(doc Doc) (Doc, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Doc
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Doc{}
	}
	return out, nil
}
