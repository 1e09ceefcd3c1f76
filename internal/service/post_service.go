// Package service holds business logic between the HTTP handlers and the repositories.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"postservice/internal/cache"
	"postservice/internal/middleware"
	"postservice/internal/models"
	"postservice/internal/notifications"
	"postservice/internal/repository"
	"postservice/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventPublisher publishes post events. *notifications.Notifier satisfies it.
type EventPublisher interface {
	PublishPostEvent(ctx context.Context, evt notifications.PostEvent) error
}

type PostService struct {
	postRepo  repository.PostRepository
	cache     *cache.Cache
	events    EventPublisher
	feedLimit int
}

func NewPostService(
	postRepo repository.PostRepository,
	c *cache.Cache,
	events EventPublisher,
	feedLimit int,
) *PostService {
	if feedLimit <= 0 {
		feedLimit = repository.DefaultLimit
	}
	return &PostService{
		postRepo:  postRepo,
		cache:     c,
		events:    events,
		feedLimit: feedLimit,
	}
}

// ValidateAuthorID rejects identifiers that cannot name an author collection.
func ValidateAuthorID(authorID string) error {
	switch {
	case authorID == "":
		return models.NewValidationError("Author id is required")
	case authorID == repository.FeedCollection:
		return models.NewValidationError("Author id is reserved")
	case strings.ContainsAny(authorID, "$\x00"):
		return models.NewValidationError("Author id contains invalid characters")
	case strings.HasPrefix(authorID, "system."):
		return models.NewValidationError("Author id is reserved")
	}
	return nil
}

// ListFeed returns the newest posts across all authors.
func (s *PostService) ListFeed(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	err := s.cache.Aside(ctx, cache.FeedKey, &posts, func() error {
		var err error
		posts, err = s.postRepo.ListFeed(ctx, s.feedLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nonNil(posts), nil
}

// ListByAuthor returns the newest posts of one author.
func (s *PostService) ListByAuthor(ctx context.Context, authorID string) ([]models.Post, error) {
	if err := ValidateAuthorID(authorID); err != nil {
		return nil, err
	}
	var posts []models.Post
	err := s.cache.Aside(ctx, cache.AuthorKey(authorID), &posts, func() error {
		var err error
		posts, err = s.postRepo.ListByAuthor(ctx, authorID, s.feedLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nonNil(posts), nil
}

// CreatePost stores payload for authorID and returns the new post id.
func (s *PostService) CreatePost(ctx context.Context, authorID string, payload models.Post) (any, error) {
	if err := ValidateAuthorID(authorID); err != nil {
		return nil, err
	}
	id, err := s.postRepo.Create(ctx, authorID, payload)
	if err != nil {
		// The author copy may already be written.
		s.cache.Invalidate(ctx, cache.AuthorKey(authorID))
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.FeedKey, cache.AuthorKey(authorID))
	s.publish(ctx, notifications.NewPostEvent(notifications.EventPostCreated, authorID, idString(id)))
	return id, nil
}

// LikePost increments the like counter of postID and returns the author-side result.
func (s *PostService) LikePost(ctx context.Context, authorID, postID string) (*store.UpdateResult, error) {
	if err := ValidateAuthorID(authorID); err != nil {
		return nil, err
	}
	res, err := s.postRepo.IncrementLike(ctx, authorID, postID)
	if err != nil {
		s.cache.Invalidate(ctx, cache.AuthorKey(authorID))
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.FeedKey, cache.AuthorKey(authorID))
	if res.MatchedCount > 0 {
		s.publish(ctx, notifications.NewPostEvent(notifications.EventPostLiked, authorID, postID))
	}
	return res, nil
}

func (s *PostService) publish(ctx context.Context, evt notifications.PostEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPostEvent(ctx, evt); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish post event",
			slog.String("type", evt.Type),
			slog.String("post_id", evt.PostID),
			slog.String("error", err.Error()),
		)
	}
}

func idString(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}

func nonNil(posts []models.Post) []models.Post {
	if posts == nil {
		return []models.Post{}
	}
	return posts
}
