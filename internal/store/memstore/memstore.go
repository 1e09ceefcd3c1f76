// Package memstore is an in-process document server implementing store.Dialer.
//
// Documents survive individual connections the way they survive a dropped
// socket to a real deployment, so the reconnect supervisor can be exercised
// without one. It supports the operations the service issues: inserts,
// equality filters, sorted and limited finds, and $inc/$set updates.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"postservice/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrConnectionDropped is reported to connections broken by DropConnections.
var ErrConnectionDropped = errors.New("memstore: connection dropped")

// Server holds the collections of one database.
type Server struct {
	mu          sync.Mutex
	collections map[string][]bson.D
	conns       map[*Conn]struct{}
	dials       int
	failDials   int
	dialErr     error
	failOps     map[string]error
}

// NewServer returns an empty server.
func NewServer() *Server {
	return &Server{
		collections: make(map[string][]bson.D),
		conns:       make(map[*Conn]struct{}),
		failOps:     make(map[string]error),
	}
}

// Dial opens a connection. It fails while FailNextDials has budget left.
func (s *Server) Dial(ctx context.Context, sig store.Signals) (store.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.failDials > 0 {
		s.failDials--
		return nil, s.dialErr
	}

	c := &Conn{srv: s, sig: sig}
	s.conns[c] = struct{}{}
	return c, nil
}

// Dials returns the number of Dial calls so far.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// FailNextDials makes the next n dials return err.
func (s *Server) FailNextDials(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDials = n
	s.dialErr = err
}

// FailCollection makes every operation on the named collection return err.
// A nil err clears the failure.
func (s *Server) FailCollection(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOps, name)
		return
	}
	s.failOps[name] = err
}

// DropConnections breaks every open connection and reports err to its
// signal sink, as a network partition would.
func (s *Server) DropConnections(err error) {
	if err == nil {
		err = ErrConnectionDropped
	}

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*Conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.broken = err
		c.mu.Unlock()
		if c.sig != nil {
			c.sig.OnError(err)
		}
	}
}

// OpenConnections returns the number of connections not yet closed or dropped.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Documents returns a copy of the named collection in insertion order.
func (s *Server) Documents(name string) []bson.D {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bson.D, 0, len(s.collections[name]))
	for _, doc := range s.collections[name] {
		out = append(out, cloneDoc(doc))
	}
	return out
}

// Conn is a connection to a Server.
type Conn struct {
	srv *Server
	sig store.Signals

	mu     sync.Mutex
	closed bool
	broken error
}

// Collection returns a handle to the named collection.
func (c *Conn) Collection(name string) store.Collection {
	return &collection{conn: c, name: name}
}

// Ping fails once the connection is closed or dropped.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.usable()
}

// Close releases the connection and reports a close signal.
func (c *Conn) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.srv.mu.Lock()
	delete(c.srv.conns, c)
	c.srv.mu.Unlock()

	if c.sig != nil {
		c.sig.OnClose()
	}
	return nil
}

func (c *Conn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return store.ErrClosed
	}
	return c.broken
}

type collection struct {
	conn *Conn
	name string
}

func (c *collection) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.usable(); err != nil {
		return err
	}
	c.conn.srv.mu.Lock()
	if err := c.conn.srv.failOps[c.name]; err != nil {
		c.conn.srv.mu.Unlock()
		return err
	}
	return nil
}

func (c *collection) end() {
	c.conn.srv.mu.Unlock()
}

func (c *collection) InsertOne(ctx context.Context, doc bson.D) (any, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.end()

	stored := cloneDoc(doc)
	id, ok := lookup(stored, "_id")
	if !ok {
		id = primitive.NewObjectID()
		stored = append(bson.D{{Key: "_id", Value: id}}, stored...)
	}

	for _, existing := range c.conn.srv.collections[c.name] {
		if other, _ := lookup(existing, "_id"); equalValues(other, id) {
			return nil, fmt.Errorf("E11000 duplicate key error collection: %s index: _id_ dup key: %v", c.name, id)
		}
	}

	c.conn.srv.collections[c.name] = append(c.conn.srv.collections[c.name], stored)
	return id, nil
}

func (c *collection) Find(ctx context.Context, filter, order bson.D, limit int64) ([]bson.D, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.end()

	docs := []bson.D{}
	for _, doc := range c.conn.srv.collections[c.name] {
		if matches(doc, filter) {
			docs = append(docs, cloneDoc(doc))
		}
	}

	if len(order) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, key := range order {
				dir := 1
				if n, ok := toFloat(key.Value); ok && n < 0 {
					dir = -1
				}
				a, _ := lookup(docs[i], key.Key)
				b, _ := lookup(docs[j], key.Key)
				if cmp := compareValues(a, b) * dir; cmp != 0 {
					return cmp < 0
				}
			}
			return false
		})
	}

	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (c *collection) UpdateOne(ctx context.Context, filter, update bson.D) (*store.UpdateResult, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.end()

	res := &store.UpdateResult{Acknowledged: true}
	docs := c.conn.srv.collections[c.name]
	for i, doc := range docs {
		if !matches(doc, filter) {
			continue
		}
		res.MatchedCount = 1

		updated, err := applyUpdate(cloneDoc(doc), update)
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(updated, doc) {
			docs[i] = updated
			res.ModifiedCount = 1
		}
		break
	}
	return res, nil
}

func applyUpdate(doc, update bson.D) (bson.D, error) {
	for _, op := range update {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memstore: %s expects a document", op.Key)
		}
		switch op.Key {
		case "$inc":
			for _, f := range fields {
				current, exists := lookup(doc, f.Key)
				if !exists {
					doc = set(doc, f.Key, normalizeNumber(f.Value))
					continue
				}
				sum, err := addNumbers(current, f.Value)
				if err != nil {
					return nil, fmt.Errorf("memstore: cannot apply $inc to field %q: %w", f.Key, err)
				}
				doc = set(doc, f.Key, sum)
			}
		case "$set":
			for _, f := range fields {
				doc = set(doc, f.Key, f.Value)
			}
		default:
			return nil, fmt.Errorf("memstore: unsupported update operator %s", op.Key)
		}
	}
	return doc, nil
}

func matches(doc, filter bson.D) bool {
	for _, cond := range filter {
		v, ok := lookup(doc, cond.Key)
		if !ok || !equalValues(v, cond.Value) {
			return false
		}
	}
	return true
}

func lookup(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func set(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

// cloneDoc deep-copies doc through a BSON round trip, so stored values take
// the types a real server would hand back (int becomes int32 when it fits).
func cloneDoc(doc bson.D) bson.D {
	raw, err := bson.Marshal(doc)
	if err != nil {
		out := make(bson.D, len(doc))
		copy(out, doc)
		return out
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		out = make(bson.D, len(doc))
		copy(out, doc)
	}
	return out
}

func equalValues(a, b any) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders missing values first, then numbers, strings,
// ObjectIDs and dates.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case primitive.ObjectID:
		if y, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(x[:], y[:])
		}
	case primitive.DateTime:
		if y, ok := b.(primitive.DateTime); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func normalizeNumber(v any) any {
	if n, ok := v.(int); ok {
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n)
		}
		return int64(n)
	}
	return v
}

func addNumbers(a, b any) (any, error) {
	a, b = normalizeNumber(a), normalizeNumber(b)
	switch x := a.(type) {
	case int32:
		switch y := b.(type) {
		case int32:
			sum := int64(x) + int64(y)
			if sum >= math.MinInt32 && sum <= math.MaxInt32 {
				return int32(sum), nil
			}
			return sum, nil
		case int64:
			return int64(x) + y, nil
		case float64:
			return float64(x) + y, nil
		}
	case int64:
		switch y := b.(type) {
		case int32:
			return x + int64(y), nil
		case int64:
			return x + y, nil
		case float64:
			return float64(x) + y, nil
		}
	case float64:
		if y, ok := toFloat(b); ok {
			return x + y, nil
		}
	}
	return nil, fmt.Errorf("non-numeric operand %T", a)
}
