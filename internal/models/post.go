package models

import (
	"bytes"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Field names shared by the author and feed copies of a post.
const (
	FieldID        = "_id"
	FieldCreatedAt = "createdAt"
	FieldAuthorID  = "authorId"
	FieldLikes     = "likes"
)

// TimestampLayout renders createdAt as UTC ISO-8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp formats t the way createdAt is stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Post is a free-form post document. Field order is preserved from the
// author's payload through storage and back out to JSON.
type Post bson.D

// ParsePost decodes a JSON object into a Post, keeping field order and
// values as sent. Anything but an object is rejected, as are keys that the
// document store would read as operators and numbers it cannot hold.
func ParsePost(data []byte) (Post, error) {
	doc, err := decodeDocument(data, true)
	if err != nil {
		return nil, &AppError{Code: "VALIDATION_ERROR", Message: "Invalid request body", Err: err}
	}
	return Post(doc), nil
}

// Get returns the value stored under key.
func (p Post) Get(key string) (any, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// With returns a copy of p where key holds value. An existing key keeps its
// position; a new key is appended.
func (p Post) With(key string, value any) Post {
	out := make(Post, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, bson.E{Key: key, Value: value})
}

// ID returns the document identifier.
func (p Post) ID() any {
	v, _ := p.Get(FieldID)
	return v
}

// Likes returns the like counter, zero when absent.
func (p Post) Likes() int64 {
	v, _ := p.Get(FieldLikes)
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// CreatedAt returns the stored creation timestamp string.
func (p Post) CreatedAt() string {
	v, _ := p.Get(FieldCreatedAt)
	s, _ := v.(string)
	return s
}

// MarshalJSON writes the document as a JSON object in field order.
// ObjectIDs are rendered as hex strings. Values JSON cannot represent are
// written as null so one stored document cannot fail a whole list.
func (p Post) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	writeDocument(&buf, bson.D(p))
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving field order.
func (p *Post) UnmarshalJSON(data []byte) error {
	doc, err := decodeDocument(data, false)
	if err != nil {
		return err
	}
	*p = Post(doc)
	return nil
}
