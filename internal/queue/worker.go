package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// HandleSchedulePostTask is the asynq handler for due posts. Delivery is
// at-least-once; the orchestrator's claim step makes redelivery harmless.
func (q *Queue) HandleSchedulePostTask(ctx context.Context, task *asynq.Task) error {
	var payload SchedulePostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	if payload.Platform != "" {
		return q.orchestrator.PublishTarget(ctx, payload.PostID, payload.Platform)
	}

	return q.orchestrator.PublishPost(ctx, payload.PostID)
}
