package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentRow is the single relational shape behind the document store: one
// JSONB payload per (collection, doc id).
type documentRow struct {
	Collection string    `gorm:"primaryKey;size:128"`
	DocID      string    `gorm:"primaryKey;column:doc_id;size:128"`
	Data       []byte    `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time `gorm:"index"`
}

func (documentRow) TableName() string { return "documents" }

// PgStore backs the Store contract with Postgres for state and Redis pub/sub
// for change fan-out, so subscriptions see commits made by any instance.
type PgStore struct {
	db  *gorm.DB
	rdb *redis.Client
	log zerolog.Logger

	mu        sync.Mutex
	nextSub   int
	docSubs   map[Ref]map[int]*subQueue
	querySubs map[int]*querySub

	cancel context.CancelFunc
}

const txRetries = 3

// NewPgStore migrates the documents table and starts the Redis change
// listener.
func NewPgStore(db *gorm.DB, rdb *redis.Client, log zerolog.Logger) (*PgStore, error) {
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrating documents table: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &PgStore{
		db:        db,
		rdb:       rdb,
		log:       log.With().Str("component", "pgstore").Logger(),
		docSubs:   make(map[Ref]map[int]*subQueue),
		querySubs: make(map[int]*querySub),
		cancel:    cancel,
	}
	go s.listenChanges(ctx)
	return s, nil
}

// Close stops the change listener.
func (s *PgStore) Close() { s.cancel() }

func (s *PgStore) NewRef(collection string) Ref {
	return Ref{Collection: collection, ID: uuid.New().String()}
}

func (s *PgStore) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	return s.getWith(s.db.WithContext(ctx), ref, false)
}

func (s *PgStore) getWith(db *gorm.DB, ref Ref, forUpdate bool) (Snapshot, error) {
	var row documentRow
	q := db.Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Snapshot{Ref: ref}, nil
		}
		return Snapshot{}, fmt.Errorf("reading %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return decodeRow(ref, row.Data)
}

func (s *PgStore) GetQuery(ctx context.Context, q Query) ([]Snapshot, error) {
	return s.queryWith(s.db.WithContext(ctx), q)
}

func (s *PgStore) queryWith(db *gorm.DB, q Query) ([]Snapshot, error) {
	tx := db.Model(&documentRow{}).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		cond, arg, err := filterSQL(f)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(cond, arg)
	}
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("data->>'%s' %s", sanitizeField(q.OrderBy), dir))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []documentRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Collection, err)
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeRow(Ref{Collection: q.Collection, ID: row.DocID}, row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func filterSQL(f Filter) (string, any, error) {
	field := sanitizeField(f.Field)
	switch f.Op {
	case OpEqual:
		return fmt.Sprintf("data->>'%s' = ?", field), stringify(f.Value), nil
	case OpNotEqual:
		return fmt.Sprintf("data->>'%s' IS NOT NULL AND data->>'%s' <> ?", field, field), stringify(f.Value), nil
	case OpGreater:
		return fmt.Sprintf("data->>'%s' > ?", field), stringify(f.Value), nil
	case OpArrayContains:
		arr, err := json.Marshal([]any{f.Value})
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("data->'%s' @> ?", field), string(arr), nil
	default:
		return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
	}
}

// sanitizeField keeps document field names out of SQL injection territory;
// they are interpolated into the JSONB path expression.
func sanitizeField(field string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, field)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (s *PgStore) Merge(ctx context.Context, ref Ref, fields Doc) error {
	return s.Batch(ctx, []WriteOp{{Ref: ref, Data: fields}})
}

func (s *PgStore) Replace(ctx context.Context, ref Ref, data Doc) error {
	return s.Batch(ctx, []WriteOp{{Ref: ref, Data: data, Replace: true}})
}

func (s *PgStore) Batch(ctx context.Context, ops []WriteOp) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if err := applyOp(tx, op, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, refsOf(ops))
	return nil
}

func applyOp(tx *gorm.DB, op WriteOp, now time.Time) error {
	data := resolveTimestamps(cloneDoc(op.Data), now)
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", op.Ref.Collection, op.Ref.ID, err)
	}
	row := documentRow{
		Collection: op.Ref.Collection,
		DocID:      op.Ref.ID,
		Data:       payload,
		UpdatedAt:  now,
	}
	assign := clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoUpdates: clause.Assignments(map[string]any{"data": gorm.Expr("documents.data || excluded.data"), "updated_at": now}),
	}
	if op.Replace {
		assign.DoUpdates = clause.Assignments(map[string]any{"data": payload, "updated_at": now})
	}
	return tx.Clauses(assign).Create(&row).Error
}

// RunTransaction runs body inside a database transaction. Transactional
// reads take row locks so a re-validated candidate cannot change under the
// commit; serialization failures are retried before ErrTxAborted surfaces.
func (s *PgStore) RunTransaction(ctx context.Context, body func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		var staged []WriteOp
		err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
			t := &pgTx{store: s, db: dbtx}
			if err := body(t); err != nil {
				return err
			}
			staged = t.staged
			now := time.Now().UTC()
			for _, op := range staged {
				if err := applyOp(dbtx, op, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			s.publish(ctx, refsOf(staged))
			return nil
		}
		if !retryableTxError(err) {
			return err
		}
		lastErr = err
	}
	s.log.Warn().Err(lastErr).Msg("transaction retries exhausted")
	return ErrTxAborted
}

func retryableTxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "40001") || // serialization_failure
		strings.Contains(msg, "40P01") || // deadlock_detected
		strings.Contains(msg, "deadlock")
}

type pgTx struct {
	store  *PgStore
	db     *gorm.DB
	staged []WriteOp
}

func (t *pgTx) Get(ref Ref) (Snapshot, error) {
	return t.store.getWith(t.db, ref, true)
}

func (t *pgTx) Set(ref Ref, data Doc) {
	t.staged = append(t.staged, WriteOp{Ref: ref, Data: data, Replace: true})
}

func (t *pgTx) Merge(ref Ref, fields Doc) {
	t.staged = append(t.staged, WriteOp{Ref: ref, Data: fields})
}

// publish fans committed refs out through Redis so every instance's
// subscribers re-read.
func (s *PgStore) publish(ctx context.Context, refs []Ref) {
	seen := make(map[string]bool)
	for _, ref := range refs {
		docCh := "doc:" + ref.Collection + ":" + ref.ID
		collCh := "coll:" + ref.Collection
		for _, ch := range []string{docCh, collCh} {
			if seen[ch] {
				continue
			}
			seen[ch] = true
			if err := s.rdb.Publish(ctx, ch, "").Err(); err != nil {
				s.log.Error().Err(err).Str("channel", ch).Msg("publishing change notification")
			}
		}
	}
}

func (s *PgStore) Subscribe(ref Ref, fn func(Snapshot)) CancelFunc {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	q := newSubQueue()
	go q.run(func(item any) { fn(item.(Snapshot)) })
	if s.docSubs[ref] == nil {
		s.docSubs[ref] = make(map[int]*subQueue)
	}
	s.docSubs[ref][id] = q
	s.mu.Unlock()

	go s.refreshDoc(ref)

	return func() {
		s.mu.Lock()
		if subs, ok := s.docSubs[ref]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				sub.close()
			}
		}
		s.mu.Unlock()
	}
}

func (s *PgStore) SubscribeQuery(query Query, fn func([]Snapshot)) CancelFunc {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	q := newSubQueue()
	go q.run(func(item any) { fn(item.([]Snapshot)) })
	s.querySubs[id] = &querySub{query: query, queue: q}
	s.mu.Unlock()

	go s.refreshCollection(query.Collection)

	return func() {
		s.mu.Lock()
		if sub, ok := s.querySubs[id]; ok {
			delete(s.querySubs, id)
			sub.queue.close()
		}
		s.mu.Unlock()
	}
}

// listenChanges is the Redis side of the subscription contract: any commit
// anywhere publishes to doc:/coll: channels and the matching local
// subscribers re-read from Postgres.
func (s *PgStore) listenChanges(ctx context.Context) {
	pubsub := s.rdb.PSubscribe(ctx, "doc:*", "coll:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(msg.Channel)
		}
	}
}

func (s *PgStore) dispatch(channel string) {
	if rest, ok := strings.CutPrefix(channel, "doc:"); ok {
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return
		}
		s.refreshDoc(Ref{Collection: rest[:idx], ID: rest[idx+1:]})
		return
	}
	if coll, ok := strings.CutPrefix(channel, "coll:"); ok {
		s.refreshCollection(coll)
	}
}

func (s *PgStore) refreshDoc(ref Ref) {
	s.mu.Lock()
	subs := make([]*subQueue, 0, len(s.docSubs[ref]))
	for _, sub := range s.docSubs[ref] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap, err := s.Get(context.Background(), ref)
	if err != nil {
		s.log.Error().Err(err).Str("collection", ref.Collection).Str("id", ref.ID).Msg("re-reading subscribed document")
		return
	}
	for _, sub := range subs {
		sub.push(snap)
	}
}

func (s *PgStore) refreshCollection(collection string) {
	s.mu.Lock()
	targets := make([]*querySub, 0)
	for _, sub := range s.querySubs {
		if sub.query.Collection == collection {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range targets {
		snaps, err := s.GetQuery(context.Background(), sub.query)
		if err != nil {
			s.log.Error().Err(err).Str("collection", collection).Msg("re-running subscribed query")
			continue
		}
		sub.queue.push(snaps)
	}
}

func decodeRow(ref Ref, payload []byte) (Snapshot, error) {
	var data Doc
	if err := json.Unmarshal(payload, &data); err != nil {
		return Snapshot{}, fmt.Errorf("decoding %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return Snapshot{Ref: ref, Exists: true, Data: data}, nil
}
