package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/postpilot-app/postpilot/internal/queue"
	"github.com/postpilot-app/postpilot/internal/repository"
)

// ScheduleSweepJob re-enqueues posts whose scheduled time has passed but
// that never reached a dispatch. It runs at startup to recover work lost
// to a crash, and periodically as a safety net for dropped tasks.
type ScheduleSweepJob struct {
	pr     repository.PostRepository
	client *asynq.Client
}

func NewScheduleSweepJob(pr repository.PostRepository, client *asynq.Client) *ScheduleSweepJob {
	return &ScheduleSweepJob{
		pr:     pr,
		client: client,
	}
}

func (c *ScheduleSweepJob) SweepDuePosts() {
	ctx := context.Background()

	posts, err := c.pr.ListDue(ctx, time.Now())
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, post := range posts {
		payload := queue.SchedulePostPayload{PostID: post.ID}
		if err := queue.EnqueuePost(c.client, payload, 0); err != nil {
			slog.Info(fmt.Sprintf("Unable to enqueue overdue post %d: %v", post.ID, err))
		}
	}
}
