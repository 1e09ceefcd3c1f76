// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"postservice/internal/middleware"
	"postservice/internal/models"
	"postservice/internal/observability"
	"postservice/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// FeedCollection holds a copy of every post across all authors.
	FeedCollection = "posts"
	// DefaultLimit caps list results.
	DefaultLimit = 20
)

// Acquirer hands out live store connections.
type Acquirer interface {
	Acquire(ctx context.Context) (store.Conn, error)
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	ListFeed(ctx context.Context, limit int) ([]models.Post, error)
	ListByAuthor(ctx context.Context, authorID string, limit int) ([]models.Post, error)
	Create(ctx context.Context, authorID string, payload models.Post) (any, error)
	IncrementLike(ctx context.Context, authorID, postID string) (*store.UpdateResult, error)
}

// postRepository implements PostRepository on two collections per post: the
// author's own collection and the shared feed collection.
type postRepository struct {
	handle Acquirer
	now    func() time.Time
}

// NewPostRepository creates a new post repository
func NewPostRepository(handle Acquirer) PostRepository {
	return &postRepository{handle: handle, now: time.Now}
}

var newestFirst = bson.D{{Key: models.FieldCreatedAt, Value: -1}}

func (r *postRepository) ListFeed(ctx context.Context, limit int) ([]models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "PostRepository.ListFeed")
	defer span.End()

	posts, err := r.list(ctx, FeedCollection, "feed", limit)
	span.SetError(err)
	return posts, err
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, limit int) ([]models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "PostRepository.ListByAuthor",
		attribute.String("post.author_id", authorID))
	defer span.End()

	posts, err := r.list(ctx, authorID, "author", limit)
	span.SetError(err)
	return posts, err
}

func (r *postRepository) list(ctx context.Context, collection, kind string, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	conn, err := r.handle.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire store connection: %w", err)
	}

	done := observability.TrackStoreOperation("find", kind)
	docs, err := conn.Collection(collection).Find(ctx, nil, newestFirst, int64(limit))
	done()
	if err != nil {
		return nil, fmt.Errorf("find %s posts: %w", kind, err)
	}

	posts := make([]models.Post, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, models.Post(doc))
	}
	return posts, nil
}

// Create writes the author copy, then the feed copy tagged with the author
// and carrying the same _id. The writes are independent: a failed feed
// write leaves the author copy in place.
func (r *postRepository) Create(ctx context.Context, authorID string, payload models.Post) (any, error) {
	span, ctx := observability.NewSpan(ctx, "PostRepository.Create",
		attribute.String("post.author_id", authorID))
	defer span.End()

	conn, err := r.handle.Acquire(ctx)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("acquire store connection: %w", err)
	}

	doc := payload.With(models.FieldCreatedAt, models.FormatTimestamp(r.now()))

	done := observability.TrackStoreOperation("insert", "author")
	id, err := conn.Collection(authorID).InsertOne(ctx, bson.D(doc))
	done()
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("insert author post: %w", err)
	}

	feedDoc := append(models.Post{{Key: models.FieldID, Value: id}}, withoutID(doc)...)
	feedDoc = feedDoc.With(models.FieldAuthorID, authorID)

	done = observability.TrackStoreOperation("insert", "feed")
	_, err = conn.Collection(FeedCollection).InsertOne(ctx, bson.D(feedDoc))
	done()
	if err != nil {
		r.partialWrite(ctx, "create", authorID, id, err)
		span.SetError(err)
		return nil, fmt.Errorf("insert feed post: %w", err)
	}

	return id, nil
}

// IncrementLike bumps the like counter on both copies. The author result is
// returned; the feed result is not surfaced. A filter matching nothing on one
// side does not stop the other write.
func (r *postRepository) IncrementLike(ctx context.Context, authorID, postID string) (*store.UpdateResult, error) {
	span, ctx := observability.NewSpan(ctx, "PostRepository.IncrementLike",
		attribute.String("post.author_id", authorID),
		attribute.String("post.id", postID))
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(postID)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("parse post id %q: %w", postID, err)
	}

	conn, err := r.handle.Acquire(ctx)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("acquire store connection: %w", err)
	}

	inc := bson.D{{Key: "$inc", Value: bson.D{{Key: models.FieldLikes, Value: 1}}}}

	done := observability.TrackStoreOperation("update", "author")
	res, err := conn.Collection(authorID).UpdateOne(ctx, bson.D{{Key: models.FieldID, Value: oid}}, inc)
	done()
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("like author post: %w", err)
	}

	feedFilter := bson.D{
		{Key: models.FieldID, Value: oid},
		{Key: models.FieldAuthorID, Value: authorID},
	}
	done = observability.TrackStoreOperation("update", "feed")
	feedRes, err := conn.Collection(FeedCollection).UpdateOne(ctx, feedFilter, inc)
	done()
	if err != nil {
		r.partialWrite(ctx, "like", authorID, oid, err)
		span.SetError(err)
		return nil, fmt.Errorf("like feed post: %w", err)
	}

	if res.MatchedCount != feedRes.MatchedCount {
		middleware.Logger.WarnContext(ctx, "like matched copies unevenly",
			slog.String("author_id", authorID),
			slog.String("post_id", postID),
			slog.Int64("author_matched", res.MatchedCount),
			slog.Int64("feed_matched", feedRes.MatchedCount),
		)
	}

	return res, nil
}

func (r *postRepository) partialWrite(ctx context.Context, op, authorID string, id any, err error) {
	observability.PartialDualWrites.WithLabelValues(op).Inc()
	middleware.Logger.ErrorContext(ctx, "partial dual-write: author copy written, feed copy failed",
		slog.String("operation", op),
		slog.String("author_collection", authorID),
		slog.String("feed_collection", FeedCollection),
		slog.Any("post_id", id),
		slog.String("error", err.Error()),
	)
}

func withoutID(p models.Post) models.Post {
	out := make(models.Post, 0, len(p))
	for _, e := range p {
		if e.Key != models.FieldID {
			out = append(out, e)
		}
	}
	return out
}
