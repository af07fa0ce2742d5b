package queue

import (
	"github.com/postpilot-app/postpilot/internal/fanout"
)

type Queue struct {
	orchestrator *fanout.Orchestrator
}

func NewQueue(orchestrator *fanout.Orchestrator) *Queue {
	return &Queue{
		orchestrator: orchestrator,
	}
}

const TaskTypeSchedulePost = "schedule:post"

// SchedulePostPayload carries a dispatch request. Platform is empty for
// the normal full fan-out; a retry of a single failed platform sets it.
type SchedulePostPayload struct {
	PostID   int64  `json:"post_id"`
	Platform string `json:"platform,omitempty"`
}
