package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a process-local Store. Commits are serialized by a single
// mutex, which makes every transaction trivially atomic, and subscription
// callbacks are delivered asynchronously in commit order so a subscriber can
// issue further writes without deadlocking.
type MemStore struct {
	mu   sync.Mutex
	cols map[string]map[string]Doc

	nextSub   int
	docSubs   map[Ref]map[int]*subQueue
	querySubs map[int]*querySub

	lastCommit time.Time
}

type querySub struct {
	query Query
	queue *subQueue
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		cols:      make(map[string]map[string]Doc),
		docSubs:   make(map[Ref]map[int]*subQueue),
		querySubs: make(map[int]*querySub),
	}
}

// NewRef mints a ref with a random UUID, mirroring the id shape the rest of
// the system uses for users and rooms.
func (m *MemStore) NewRef(collection string) Ref {
	return Ref{Collection: collection, ID: uuid.New().String()}
}

func (m *MemStore) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ref), nil
}

func (m *MemStore) GetQuery(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runQueryLocked(q), nil
}

func (m *MemStore) Merge(ctx context.Context, ref Ref, fields Doc) error {
	return m.Batch(ctx, []WriteOp{{Ref: ref, Data: fields}})
}

func (m *MemStore) Replace(ctx context.Context, ref Ref, data Doc) error {
	return m.Batch(ctx, []WriteOp{{Ref: ref, Data: data, Replace: true}})
}

func (m *MemStore) Batch(ctx context.Context, ops []WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	now := m.commitTimeLocked()
	for _, op := range ops {
		m.applyLocked(op, now)
	}
	m.notifyLocked(refsOf(ops))
	m.mu.Unlock()
	return nil
}

func (m *MemStore) RunTransaction(ctx context.Context, body func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := body(tx); err != nil {
		return err
	}

	now := m.commitTimeLocked()
	for _, op := range tx.staged {
		m.applyLocked(op, now)
	}
	m.notifyLocked(refsOf(tx.staged))
	return nil
}

func (m *MemStore) Subscribe(ref Ref, fn func(Snapshot)) CancelFunc {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	q := newSubQueue()
	go q.run(func(item any) { fn(item.(Snapshot)) })
	if m.docSubs[ref] == nil {
		m.docSubs[ref] = make(map[int]*subQueue)
	}
	m.docSubs[ref][id] = q
	q.push(m.snapshotLocked(ref))
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if subs, ok := m.docSubs[ref]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				sub.close()
			}
		}
		m.mu.Unlock()
	}
}

func (m *MemStore) SubscribeQuery(query Query, fn func([]Snapshot)) CancelFunc {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	q := newSubQueue()
	go q.run(func(item any) { fn(item.([]Snapshot)) })
	m.querySubs[id] = &querySub{query: query, queue: q}
	q.push(m.runQueryLocked(query))
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if sub, ok := m.querySubs[id]; ok {
			delete(m.querySubs, id)
			sub.queue.close()
		}
		m.mu.Unlock()
	}
}

// commitTimeLocked returns a strictly monotonic server timestamp so that
// documents committed back to back never share an ordering key.
func (m *MemStore) commitTimeLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastCommit) {
		now = m.lastCommit.Add(time.Microsecond)
	}
	m.lastCommit = now
	return now
}

func (m *MemStore) applyLocked(op WriteOp, now time.Time) {
	col := m.cols[op.Ref.Collection]
	if col == nil {
		col = make(map[string]Doc)
		m.cols[op.Ref.Collection] = col
	}
	data := resolveTimestamps(cloneDoc(op.Data), now)
	if op.Replace {
		col[op.Ref.ID] = data
		return
	}
	existing := col[op.Ref.ID]
	if existing == nil {
		existing = make(Doc)
		col[op.Ref.ID] = existing
	}
	for k, v := range data {
		existing[k] = v
	}
}

func (m *MemStore) notifyLocked(refs []Ref) {
	touched := make(map[string]bool)
	seen := make(map[Ref]bool)
	for _, ref := range refs {
		touched[ref.Collection] = true
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if subs, ok := m.docSubs[ref]; ok {
			snap := m.snapshotLocked(ref)
			for _, sub := range subs {
				sub.push(snap)
			}
		}
	}
	for _, sub := range m.querySubs {
		if touched[sub.query.Collection] {
			sub.queue.push(m.runQueryLocked(sub.query))
		}
	}
}

func (m *MemStore) snapshotLocked(ref Ref) Snapshot {
	if col, ok := m.cols[ref.Collection]; ok {
		if doc, ok := col[ref.ID]; ok {
			return Snapshot{Ref: ref, Exists: true, Data: cloneDoc(doc)}
		}
	}
	return Snapshot{Ref: ref}
}

func (m *MemStore) runQueryLocked(q Query) []Snapshot {
	var out []Snapshot
	for id, doc := range m.cols[q.Collection] {
		if matches(doc, q.Filters) {
			out = append(out, Snapshot{
				Ref:    Ref{Collection: q.Collection, ID: id},
				Exists: true,
				Data:   cloneDoc(doc),
			})
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy]) < 0
			if q.Desc {
				return !less
			}
			return less
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func refsOf(ops []WriteOp) []Ref {
	refs := make([]Ref, 0, len(ops))
	for _, op := range ops {
		refs = append(refs, op.Ref)
	}
	return refs
}

// memTx stages writes while the store mutex is held, so reads observe a
// stable committed state overlaid with the transaction's own writes.
type memTx struct {
	store  *MemStore
	staged []WriteOp
}

func (t *memTx) Get(ref Ref) (Snapshot, error) {
	snap := t.store.snapshotLocked(ref)
	for _, op := range t.staged {
		if op.Ref != ref {
			continue
		}
		if op.Replace || !snap.Exists {
			snap = Snapshot{Ref: ref, Exists: true, Data: cloneDoc(op.Data)}
			continue
		}
		for k, v := range op.Data {
			snap.Data[k] = v
		}
	}
	return snap, nil
}

func (t *memTx) Set(ref Ref, data Doc) {
	t.staged = append(t.staged, WriteOp{Ref: ref, Data: data, Replace: true})
}

func (t *memTx) Merge(ref Ref, fields Doc) {
	t.staged = append(t.staged, WriteOp{Ref: ref, Data: fields})
}

// subQueue delivers queued items to one subscriber, in order, on its own
// goroutine. Pushing never blocks the committer.
type subQueue struct {
	mu     sync.Mutex
	items  []any
	wake   chan struct{}
	closed bool
}

func newSubQueue() *subQueue {
	return &subQueue{wake: make(chan struct{}, 1)}
}

func (q *subQueue) push(item any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *subQueue) run(deliver func(any)) {
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			deliver(item)
		}
	}
}

func (q *subQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}
