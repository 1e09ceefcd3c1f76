// Package seed creates demo posts through the post repository, so both the
// author and feed copies are written the same way the API writes them.
// Intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"postservice/internal/middleware"
	"postservice/internal/models"
	"postservice/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Options control how much data is generated.
type Options struct {
	Authors int
	Posts   int
	// MaxLikes caps the likes applied to each post.
	MaxLikes int
	// RandSeed makes runs reproducible; zero picks a random seed.
	RandSeed int64
}

// Result summarizes a seeding run.
type Result struct {
	Authors []string
	Posts   int
	Likes   int
}

// Seeder writes generated posts through a repository.
type Seeder struct {
	repo  repository.PostRepository
	faker *gofakeit.Faker
}

// NewSeeder creates a seeder. A zero seed draws from crypto/rand.
func NewSeeder(repo repository.PostRepository, randSeed int64) *Seeder {
	return &Seeder{repo: repo, faker: gofakeit.New(randSeed)}
}

// Authors generates n distinct author identifiers shaped like email addresses.
func (s *Seeder) Authors(n int) []string {
	seen := make(map[string]struct{}, n)
	authors := make([]string, 0, n)
	for len(authors) < n {
		email := strings.ToLower(s.faker.Email())
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		authors = append(authors, email)
	}
	return authors
}

// BuildPost returns a free-form payload with a text body and a few optional fields.
func (s *Seeder) BuildPost() models.Post {
	post := models.Post{
		{Key: "text", Value: s.faker.Sentence(s.faker.Number(4, 14))},
	}
	if s.faker.Bool() {
		post = post.With("mood", s.faker.Adjective())
	}
	if s.faker.Number(0, 3) == 0 {
		post = post.With("imageUrl", fmt.Sprintf("https://picsum.photos/seed/%s/800/800", s.faker.UUID()))
	}
	if s.faker.Bool() {
		tags := primitive.A{}
		for i := s.faker.Number(1, 3); i > 0; i-- {
			tags = append(tags, s.faker.HipsterWord())
		}
		post = post.With("tags", tags)
	}
	return post
}

// Run creates opts.Posts posts spread round-robin over opts.Authors authors
// and likes each one up to opts.MaxLikes times.
func (s *Seeder) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Authors <= 0 {
		return Result{}, fmt.Errorf("authors must be positive, got %d", opts.Authors)
	}

	res := Result{Authors: s.Authors(opts.Authors)}
	for i := 0; i < opts.Posts; i++ {
		author := res.Authors[i%len(res.Authors)]

		id, err := s.repo.Create(ctx, author, s.BuildPost())
		if err != nil {
			return res, fmt.Errorf("create post %d for %s: %w", i, author, err)
		}
		res.Posts++

		oid, ok := id.(primitive.ObjectID)
		if !ok || opts.MaxLikes <= 0 {
			continue
		}
		for n := s.faker.Number(0, opts.MaxLikes); n > 0; n-- {
			if _, err := s.repo.IncrementLike(ctx, author, oid.Hex()); err != nil {
				return res, fmt.Errorf("like post %s: %w", oid.Hex(), err)
			}
			res.Likes++
		}
	}

	middleware.Logger.InfoContext(ctx, "seeding complete",
		slog.Int("authors", len(res.Authors)),
		slog.Int("posts", res.Posts),
		slog.Int("likes", res.Likes),
	)
	return res, nil
}
