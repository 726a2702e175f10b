package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/metrics"
)

// Event describes a mutation somewhere in a collection. It carries no
// payload; subscribers re-run their query against the backend.
type Event struct {
	Collection string `json:"collection"`
	Parent     string `json:"parent"`
}

// Notifier broadcasts change events across processes so that live
// subscriptions in one instance observe writes made by another.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(fn func(Event))
}

// hub delivers change notifications to live subscriptions. Callbacks run on
// the subscription's own goroutine, out-of-band from the writer.
type hub struct {
	store *Store
	mu    sync.Mutex
	subs  map[*subscription]struct{}
}

type subscription struct {
	collection string
	parent     string
	cond       Condition
	onChange   func([]Doc)
	kick       chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub(s *Store) *hub {
	return &hub{store: s, subs: make(map[*subscription]struct{})}
}

func (h *hub) subscribe(ctx context.Context, collection, parent string, cond Condition, onChange func([]Doc)) (func(), error) {
	sub := &subscription{
		collection: collection,
		parent:     parent,
		cond:       cond,
		onChange:   onChange,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	metrics.StreamOpened()

	sub.wg.Add(1)
	go h.run(ctx, sub)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.done)
			sub.wg.Wait()
			metrics.StreamClosed()
		})
	}
	return cancel, nil
}

func (h *hub) run(ctx context.Context, sub *subscription) {
	defer sub.wg.Done()

	var last string
	seeded := false
	fire := func() {
		docs, err := h.store.backend.Find(ctx, sub.collection, sub.parent, sub.cond)
		if err != nil {
			h.store.log.Warn().Err(err).Str("collection", sub.collection).Msg("stream requery failed")
			return
		}
		if docs == nil {
			docs = []Doc{}
		}
		snapshot := snapshotOf(docs)
		if seeded && snapshot == last {
			return
		}
		seeded = true
		last = snapshot
		sub.onChange(docs)
	}

	// Initial delivery with the current matching set.
	fire()
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			return
		case <-sub.kick:
			fire()
		}
	}
}

// notify kicks every subscription watching the mutated collection. The kick
// channel coalesces bursts; each kick triggers one requery.
func (h *hub) notify(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.collection != e.Collection || sub.parent != e.Parent {
			continue
		}
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

// snapshotOf renders a matched set in key order so that set comparison is
// insensitive to backend iteration order.
func snapshotOf(docs []Doc) string {
	sort.Slice(docs, func(i, j int) bool {
		ki, _ := docs[i][KeyField].(string)
		kj, _ := docs[j][KeyField].(string)
		return ki < kj
	})
	raw, err := json.Marshal(docs)
	if err != nil {
		return ""
	}
	return string(raw)
}

// RedisNotifier broadcasts change events over a pub/sub channel. Each
// instance receives its own publications back, which is harmless: the hub
// requeries and suppresses unchanged sets.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: "rollcall:changes"}
}

func (n *RedisNotifier) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, raw).Err()
}

func (n *RedisNotifier) Subscribe(fn func(Event)) {
	ps := n.client.Subscribe(context.Background(), n.channel)
	go func() {
		for msg := range ps.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			fn(e)
		}
	}()
}
