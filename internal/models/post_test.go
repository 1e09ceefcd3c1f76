package models

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParsePost(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
		keys        []string
	}{
		{"Object keeps field order", `{"text":"hi","mood":"ok","tags":["a","b"]}`, false, []string{"text", "mood", "tags"}},
		{"Empty object", `{}`, false, nil},
		{"Nested object", `{"meta":{"b":1,"a":2}}`, false, []string{"meta"}},
		{"Array body", `[1,2]`, true, nil},
		{"String body", `"hi"`, true, nil},
		{"Empty body", ``, true, nil},
		{"Malformed", `{"text":`, true, nil},
		{"Trailing data", `{"text":"hi"} {}`, true, nil},
		{"Operator key", `{"$set":{"likes":100}}`, true, nil},
		{"Nested operator key", `{"n":{"$numberDouble":"NaN"}}`, true, nil},
		{"Operator key in array", `{"tags":[{"$oid":"65a1b2c3d4e5f60718293a4b"}]}`, true, nil},
		{"NUL in key", `{"a\u0000b":1}`, true, nil},
		{"Number overflows double", `{"n":1e400}`, true, nil},
		{"Repeated key keeps first position", `{"a":1,"b":2,"a":3}`, false, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post, err := ParsePost([]byte(tt.body))
			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, IsValidationError(err))
				return
			}
			require.NoError(t, err)
			var keys []string
			for _, e := range post {
				keys = append(keys, e.Key)
			}
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestParsePost_ValuesAreLiteral(t *testing.T) {
	post, err := ParsePost([]byte(`{"meta":{"date":"2020-01-01T00:00:00Z"},"small":5,"big":4294967296,"ratio":0.5,"exp":1e2,"none":null,"ok":true,"list":[1,"x"]}`))
	require.NoError(t, err)

	want := Post{
		{Key: "meta", Value: bson.D{{Key: "date", Value: "2020-01-01T00:00:00Z"}}},
		{Key: "small", Value: int32(5)},
		{Key: "big", Value: int64(4294967296)},
		{Key: "ratio", Value: 0.5},
		{Key: "exp", Value: 100.0},
		{Key: "none", Value: nil},
		{Key: "ok", Value: true},
		{Key: "list", Value: primitive.A{int32(1), "x"}},
	}
	assert.Equal(t, want, post)
}

func TestParsePost_DepthLimit(t *testing.T) {
	deep := strings.Repeat(`{"a":`, maxDepth) + `1` + strings.Repeat(`}`, maxDepth)
	_, err := ParsePost([]byte(deep))
	require.NoError(t, err)

	tooDeep := strings.Repeat(`{"a":`, maxDepth+1) + `1` + strings.Repeat(`}`, maxDepth+1)
	_, err = ParsePost([]byte(tooDeep))
	assert.True(t, IsValidationError(err))
}

func TestPost_With(t *testing.T) {
	p := Post{{Key: "text", Value: "hi"}, {Key: "createdAt", Value: "old"}}

	replaced := p.With(FieldCreatedAt, "new")
	assert.Equal(t, "new", replaced.CreatedAt())
	assert.Equal(t, "old", p.CreatedAt(), "original must not change")
	assert.Equal(t, "createdAt", replaced[1].Key)

	appended := p.With(FieldAuthorID, "a@x.com")
	require.Len(t, appended, 3)
	assert.Equal(t, FieldAuthorID, appended[2].Key)
	assert.Len(t, p, 2)
}

func TestPost_Likes(t *testing.T) {
	assert.Equal(t, int64(0), Post{}.Likes())
	assert.Equal(t, int64(3), Post{{Key: FieldLikes, Value: int32(3)}}.Likes())
	assert.Equal(t, int64(4), Post{{Key: FieldLikes, Value: int64(4)}}.Likes())
	assert.Equal(t, int64(0), Post{{Key: FieldLikes, Value: "many"}}.Likes())
}

func TestPost_MarshalJSON(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)

	p := Post{
		{Key: FieldID, Value: oid},
		{Key: "text", Value: "hi"},
		{Key: "meta", Value: bson.D{{Key: "z", Value: int32(1)}, {Key: "a", Value: true}}},
		{Key: "tags", Value: primitive.A{"x", bson.D{{Key: "k", Value: "v"}}}},
		{Key: FieldCreatedAt, Value: "2026-10-15T08:30:00.000Z"},
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t,
		`{"_id":"65a1b2c3d4e5f60718293a4b","text":"hi","meta":{"z":1,"a":true},"tags":["x",{"k":"v"}],"createdAt":"2026-10-15T08:30:00.000Z"}`,
		string(b))
}

func TestPost_JSONRoundTrip(t *testing.T) {
	in := `{"_id":"65a1b2c3d4e5f60718293a4b","text":"hi","likes":2}`

	var p Post
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	assert.Equal(t, int64(2), p.Likes())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestPost_MarshalJSONNeverFails(t *testing.T) {
	p := Post{
		{Key: "nan", Value: math.NaN()},
		{Key: "inf", Value: math.Inf(-1)},
		{Key: "when", Value: primitive.NewDateTimeFromTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))},
		{Key: "nested", Value: primitive.A{math.Inf(1), bson.M{"b": 2.5, "a": math.NaN()}}},
		{Key: "ch", Value: make(chan int)},
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t,
		`{"nan":null,"inf":null,"when":"2020-01-01T00:00:00.000Z","nested":[null,{"a":null,"b":2.5}],"ch":null}`,
		string(b))
}

func TestPost_UnmarshalJSONAcceptsStoredKeys(t *testing.T) {
	var p Post
	require.NoError(t, json.Unmarshal([]byte(`{"text":"hi","meta":{"$legacy":1}}`), &p))
	assert.Equal(t, Post{
		{Key: "text", Value: "hi"},
		{Key: "meta", Value: bson.D{{Key: "$legacy", Value: int32(1)}}},
	}, p)
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 10, 15, 8, 30, 0, 123456789, time.FixedZone("X", 3600))
	assert.Equal(t, "2026-10-15T07:30:00.123Z", FormatTimestamp(ts))
}

func TestRespondWithError(t *testing.T) {
	app := fiber.New()
	app.Get("/validation", func(c *fiber.Ctx) error {
		return RespondWithError(c, fiber.StatusBadRequest, NewValidationError("Invalid author"))
	})
	app.Get("/internal", func(c *fiber.Ctx) error {
		return RespondWithError(c, fiber.StatusInternalServerError,
			NewInternalError("Failed to fetch posts", assert.AnError))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/validation", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "VALIDATION_ERROR", body.Code)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/internal", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body = ErrorResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Failed to fetch posts", body.Error)
	assert.Empty(t, body.Details, "store detail must not leak to clients")
}
