package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/queue"
	"github.com/postpilot-app/postpilot/internal/transfer"
)

type stubPostService struct {
	postID int64
}

func (s *stubPostService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error) {
	return s.postID, 0, nil
}

func (s *stubPostService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (s *stubPostService) PostStatus(ctx context.Context, postID, userID int64) (*transfer.PostStatusView, error) {
	return nil, nil
}

func (s *stubPostService) Cancel(ctx context.Context, userID, postID int64) error {
	return nil
}

func (s *stubPostService) PrepareRetry(ctx context.Context, userID, postID int64, platform string) error {
	return nil
}

func newCreateApp(h *PostHandler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "7")
		return c.Next()
	})
	app.Post("/posts/create", h.CreatePost)
	return app
}

func createRequest(t *testing.T) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("targets", `{"youtube":{"caption":"hi"}}`); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("files", "clip.mp4")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("video-bytes")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/posts/create", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestCreatePostEnqueued(t *testing.T) {
	h := &PostHandler{s: &stubPostService{postID: 42}}
	h.enqueue = func(*asynq.Client, queue.SchedulePostPayload, time.Duration) error {
		return nil
	}
	app := newCreateApp(h)

	resp, err := app.Test(createRequest(t))
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestCreatePostSurvivesEnqueueFailure(t *testing.T) {
	// The post row is persisted before the queue is touched, so a
	// queue outage must report the saved post for sweep pickup rather
	// than an error.
	h := &PostHandler{s: &stubPostService{postID: 42}}
	h.enqueue = func(*asynq.Client, queue.SchedulePostPayload, time.Duration) error {
		return errors.New("dial tcp: connection refused")
	}
	app := newCreateApp(h)

	resp, err := app.Test(createRequest(t))
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}

	raw, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := payload["error"]; ok {
		t.Errorf("response carries an error field: %s", raw)
	}
	if id, ok := payload["post_id"].(float64); !ok || int64(id) != 42 {
		t.Errorf("post_id = %v, want 42", payload["post_id"])
	}
}
