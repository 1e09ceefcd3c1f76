// Command seed fills the configured store with generated demo posts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"postservice/internal/bootstrap"
	"postservice/internal/config"
	"postservice/internal/middleware"
	"postservice/internal/repository"
	"postservice/internal/seed"
)

func main() {
	authors := flag.Int("authors", 5, "number of distinct authors")
	posts := flag.Int("posts", 50, "number of posts to create")
	maxLikes := flag.Int("max-likes", 10, "maximum likes applied to each post")
	randSeed := flag.Int64("seed", 0, "random seed for reproducible data (0 = random)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the run")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handle, rdb, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		middleware.Logger.Error("failed to initialize runtime", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// Seeding bypasses the cache; entries expire on their own TTL.
	if rdb != nil {
		_ = rdb.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	seeder := seed.NewSeeder(repository.NewPostRepository(handle), *randSeed)
	_, runErr := seeder.Run(ctx, seed.Options{
		Authors:  *authors,
		Posts:    *posts,
		MaxLikes: *maxLikes,
		RandSeed: *randSeed,
	})

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := handle.Close(closeCtx); err != nil {
		middleware.Logger.Warn("failed to close store connection", slog.String("error", err.Error()))
	}

	if runErr != nil {
		middleware.Logger.Error("seeding failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}
