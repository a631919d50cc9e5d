// Package store defines the document-store contract the chat engine runs
// against: live per-document and per-query subscriptions, multi-document
// atomic transactions, and batched writes. Two backends implement it: an
// in-memory store (memstore.go) and a Postgres/Redis store (pgstore.go).
package store

import (
	"context"
	"errors"
)

// Doc is a single document payload. Values are plain Go types: string, bool,
// int64/float64, time.Time, []any, map[string]any, or the ServerTimestamp
// sentinel.
type Doc = map[string]any

// Ref identifies one document.
type Ref struct {
	Collection string
	ID         string
}

// IsZero reports whether the ref points nowhere.
func (r Ref) IsZero() bool { return r.Collection == "" && r.ID == "" }

// Filter operators supported by queries.
const (
	OpEqual         = "=="
	OpNotEqual      = "!="
	OpGreater       = ">"
	OpArrayContains = "array-contains"
)

// Filter is one field predicate of a query.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query selects a filtered, ordered, bounded set of documents from one
// collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Where appends a filter and returns the query, for chaining.
func (q Query) Where(field, op string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Snapshot is the state of one document at a point in time.
type Snapshot struct {
	Ref    Ref
	Exists bool
	Data   Doc
}

// Empty reports whether the document exists but holds no fields. A cleared
// profile looks like this and must never be trusted as a valid state.
func (s Snapshot) Empty() bool { return s.Exists && len(s.Data) == 0 }

// Tx is the handle passed to a transaction body. Reads observe committed
// state; writes are staged and commit atomically when the body returns nil.
type Tx interface {
	Get(ref Ref) (Snapshot, error)
	Set(ref Ref, data Doc)
	Merge(ref Ref, fields Doc)
}

// WriteOp is one element of a batched write.
type WriteOp struct {
	Ref     Ref
	Data    Doc
	Replace bool // full overwrite instead of merge
}

// CancelFunc tears down a subscription.
type CancelFunc func()

// ErrTxAborted is returned when a transaction could not commit after the
// backend exhausted its conflict retries.
var ErrTxAborted = errors.New("store: transaction aborted")

// Store is the adapter contract consumed by the engine.
type Store interface {
	// NewRef mints a ref with a fresh unique ID in the given collection.
	NewRef(collection string) Ref

	Get(ctx context.Context, ref Ref) (Snapshot, error)
	GetQuery(ctx context.Context, q Query) ([]Snapshot, error)

	// Merge upserts, merging fields into the existing document.
	Merge(ctx context.Context, ref Ref, fields Doc) error
	// Replace overwrites the whole document; an empty Doc clears it.
	Replace(ctx context.Context, ref Ref, data Doc) error
	// Batch commits the ops together, without transactional reads.
	Batch(ctx context.Context, ops []WriteOp) error

	// RunTransaction executes body; staged writes commit atomically or not at
	// all. The backend retries on write conflicts before surfacing ErrTxAborted.
	RunTransaction(ctx context.Context, body func(tx Tx) error) error

	// Subscribe delivers a snapshot on every committed change to ref,
	// including the current state on registration.
	Subscribe(ref Ref, fn func(Snapshot)) CancelFunc
	// SubscribeQuery delivers the full result set whenever any document in
	// the queried collection changes.
	SubscribeQuery(q Query, fn func([]Snapshot)) CancelFunc
}

type serverTimestamp struct{}

// ServerTimestamp is a write-time sentinel resolved to the store's own clock
// at commit. Client clocks are never trusted for ordering.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the commit-time clock sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}
