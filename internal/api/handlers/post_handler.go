package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/postpilot-app/postpilot/internal/queue"
	"github.com/postpilot-app/postpilot/internal/service"
	"github.com/postpilot-app/postpilot/internal/transfer"
)

type PostHandler struct {
	s           service.PostService
	AsynqClient *asynq.Client
	enqueue     func(*asynq.Client, queue.SchedulePostPayload, time.Duration) error
}

func NewPostHandler(service service.PostService, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: service, AsynqClient: asynqClient, enqueue: queue.EnqueuePost}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	targets := c.FormValue("targets")
	scheduledAt := c.FormValue("scheduled_at")
	timezone := c.FormValue("timezone")

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files selected",
		})
	}

	postID, delay, err := h.s.CreatePost(c.Context(), userID, &transfer.PostCreation{
		Targets:     targets,
		ScheduledAt: scheduledAt,
		Timezone:    timezone},
		files)

	if err != nil {
		if errors.Is(err, service.ErrEmptySelection) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	err = h.enqueue(h.AsynqClient, queue.SchedulePostPayload{PostID: postID}, delay)
	if err != nil {
		// The post is persisted; the sweep job dispatches it once the
		// queue is reachable again.
		slog.Info(err.Error())
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": "Post saved, scheduled for pickup",
			"post_id": postID,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post scheduled successfully",
		"post_id": postID,
	})
}

// ListPosts returns the caller's posts, or one post's per-platform
// status breakdown when ?id= is given.
func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userId := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if postId != 0 {
		post, err := h.s.PostStatus(c.Context(), int64(postId), userId)
		if err != nil {
			if errors.Is(err, service.ErrPostNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Post not found",
				})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to list posts",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)

	}

	posts, err := h.s.List(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	err := h.s.Cancel(c.Context(), userID, int64(postId))
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Post not found",
			})
		}
		if errors.Is(err, service.ErrNotCancelable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Post can no longer be canceled",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to cancel post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

// RetryPost re-runs one failed platform of a settled post. The target
// goes back to pending and the dispatch is enqueued immediately.
func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)
	platform := c.Params("platform")

	err := h.s.PrepareRetry(c.Context(), userID, int64(postId), platform)
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Post not found",
			})
		}
		if errors.Is(err, service.ErrNotRetryable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Platform is not in a retryable state",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to retry post",
		})
	}

	err = h.enqueue(h.AsynqClient, queue.SchedulePostPayload{PostID: int64(postId), Platform: platform}, 0)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error scheduling retry",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Retry scheduled",
	})
}
