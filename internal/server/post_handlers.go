package server

import (
	"postservice/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetPosts handles GET /posts
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListFeed(c.UserContext())
	if err != nil {
		return respondServiceError(c, "Failed to fetch posts", err)
	}
	return c.JSON(posts)
}

// GetAuthorPosts handles GET /posts/:authorId
func (s *Server) GetAuthorPosts(c *fiber.Ctx) error {
	authorID, err := pathParam(c, "authorId")
	if err != nil {
		return nil
	}

	posts, err := s.postService.ListByAuthor(c.UserContext(), authorID)
	if err != nil {
		return respondServiceError(c, "Failed to fetch user posts", err)
	}
	return c.JSON(posts)
}

// CreatePost handles POST /posts/:authorId. The body is stored as given,
// plus a server-assigned createdAt.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	authorID, err := pathParam(c, "authorId")
	if err != nil {
		return nil
	}

	payload, err := models.ParsePost(c.Body())
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	id, err := s.postService.CreatePost(c.UserContext(), authorID, payload)
	if err != nil {
		return respondServiceError(c, "Failed to create post", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"_id": id})
}

// LikePost handles PATCH /posts/:authorId/:postId/like
func (s *Server) LikePost(c *fiber.Ctx) error {
	authorID, err := pathParam(c, "authorId")
	if err != nil {
		return nil
	}
	postID, err := pathParam(c, "postId")
	if err != nil {
		return nil
	}

	res, err := s.postService.LikePost(c.UserContext(), authorID, postID)
	if err != nil {
		return respondServiceError(c, "Failed to update like", err)
	}
	return c.JSON(res)
}
