package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxDepth matches the document store's nesting limit.
const maxDepth = 100

var (
	errNotObject = errors.New("body must be a JSON object")
	errTrailing  = errors.New("unexpected data after JSON object")
	errTooDeep   = fmt.Errorf("document nested deeper than %d levels", maxDepth)
)

// documentDecoder reads plain JSON into ordered documents. Values are taken
// literally: objects such as {"$date": ...} stay objects.
type documentDecoder struct {
	dec *json.Decoder
	// strict rejects keys the store would treat as operators or cannot encode.
	strict bool
}

func decodeDocument(data []byte, strict bool) (bson.D, error) {
	d := &documentDecoder{dec: json.NewDecoder(bytes.NewReader(data)), strict: strict}
	d.dec.UseNumber()

	tok, err := d.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNotObject
		}
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	doc, err := d.object(1)
	if err != nil {
		return nil, err
	}
	if _, err := d.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailing
	}
	return doc, nil
}

// object reads members up to and including the closing brace.
func (d *documentDecoder) object(depth int) (bson.D, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	doc := bson.D{}
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		if d.strict {
			if err := checkKey(key); err != nil {
				return nil, err
			}
		}

		value, err := d.value(depth)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		doc = setField(doc, key, value)
	}
	if _, err := d.dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *documentDecoder) array(depth int) (primitive.A, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	arr := primitive.A{}
	for d.dec.More() {
		v, err := d.value(depth)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", len(arr), err)
		}
		arr = append(arr, v)
	}
	if _, err := d.dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

func (d *documentDecoder) value(depth int) (any, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return d.object(depth + 1)
		case '[':
			return d.array(depth + 1)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case json.Number:
		return parseNumber(t)
	default:
		// string, bool or nil
		return t, nil
	}
}

// parseNumber stores integers as int32 when they fit, like the Node driver,
// then int64, then double.
func parseNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i), nil
		}
		return i, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("number %s out of range", n)
	}
	return f, nil
}

func checkKey(key string) error {
	if strings.HasPrefix(key, "$") {
		return fmt.Errorf("field name %q must not start with '$'", key)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("field name %q contains a NUL byte", key)
	}
	return nil
}

// setField keeps the first position of a repeated key and its last value.
func setField(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func writeDocument(buf *bytes.Buffer, doc bson.D) {
	buf.WriteByte('{')
	for i, e := range doc {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, e.Key)
		buf.WriteByte(':')
		writeValue(buf, e.Value)
	}
	buf.WriteByte('}')
}

func writeMap(buf *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: m[k]})
	}
	writeDocument(buf, doc)
}

func writeArray(buf *bytes.Buffer, arr []any) {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeValue(buf, item)
	}
	buf.WriteByte(']')
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func writeFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	b, _ := json.Marshal(f)
	buf.Write(b)
}

// writeValue renders any value a stored document can hold. It cannot fail:
// what JSON has no form for becomes null.
func writeValue(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case float64:
		writeFloat(buf, val)
	case float32:
		writeFloat(buf, float64(val))
	case primitive.ObjectID:
		writeString(buf, val.Hex())
	case primitive.DateTime:
		writeString(buf, FormatTimestamp(val.Time()))
	case primitive.Decimal128:
		writeString(buf, val.String())
	case bson.D:
		writeDocument(buf, val)
	case Post:
		writeDocument(buf, bson.D(val))
	case primitive.M:
		writeMap(buf, val)
	case map[string]any:
		writeMap(buf, val)
	case primitive.A:
		writeArray(buf, val)
	case []any:
		writeArray(buf, val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			buf.WriteString("null")
			return
		}
		buf.Write(b)
	}
}
