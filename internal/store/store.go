// Package store owns the process-wide connection to the document store.
//
// A Handle hands out live connections through Acquire and runs the reconnect
// supervisor: a small state machine (Idle, Connecting, Connected, Backoff)
// that re-dials after a fixed delay whenever the active connection reports a
// close or error signal. Drivers implement Dialer; MongoDialer talks to
// MongoDB and the memstore package provides an in-process server.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrClosed is returned by Acquire and by connections after Close.
var ErrClosed = errors.New("store: handle closed")

// Collection is the subset of document operations the service issues.
type Collection interface {
	// InsertOne writes doc and returns its identifier. When doc has no _id
	// the store assigns one.
	InsertOne(ctx context.Context, doc bson.D) (any, error)
	// Find returns the documents matching filter ordered by sort, capped at
	// limit when limit > 0. A collection that does not exist yields no
	// documents and no error.
	Find(ctx context.Context, filter, sort bson.D, limit int64) ([]bson.D, error)
	// UpdateOne applies update to the first document matching filter.
	UpdateOne(ctx context.Context, filter, update bson.D) (*UpdateResult, error)
}

// UpdateResult is the outcome of UpdateOne.
type UpdateResult struct {
	Acknowledged  bool  `json:"acknowledged"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
	UpsertedID    any   `json:"upsertedId"`
}

// Conn is a live connection to one database of the store.
type Conn interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Signals receives lifecycle events from a connection. Implementations must
// not block.
type Signals interface {
	OnClose()
	OnError(err error)
}

// Dialer opens connections. The returned Conn reports its lifecycle events
// to sig for as long as it lives.
type Dialer interface {
	Dial(ctx context.Context, sig Signals) (Conn, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, sig Signals) (Conn, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context, sig Signals) (Conn, error) {
	return f(ctx, sig)
}
