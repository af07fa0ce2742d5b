package models

import "time"

type Post struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Status      string    `db:"status" json:"status"`
	ScheduledAt time.Time `db:"scheduled_at" json:"scheduled_at"`
	Timezone    string    `db:"timezone" json:"timezone"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PostTarget is one platform's slice of a post. A row exists only for
// platforms the user enabled at composition time, so absence of a row
// means the platform was never requested.
type PostTarget struct {
	PostID       int64     `db:"post_id" json:"post_id"`
	Platform     string    `db:"platform" json:"platform"`
	Title        string    `db:"title" json:"title"`
	Caption      string    `db:"caption" json:"caption"`
	Tags         string    `db:"tags" json:"tags"`
	Status       string    `db:"status" json:"status"`
	ExternalID   string    `db:"external_id" json:"external_id"`
	ErrorKind    string    `db:"error_kind" json:"error_kind"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type MediaAsset struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	FileName     string    `db:"file_name"`
	FileType     string    `db:"file_type"`
	FileSize     int64     `db:"file_size"`
	FileURL      string    `db:"file_url"`
	ThumbnailURL string    `db:"thumbnail_url"`
	CreatedAt    time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusDraft           = "draft"
	PostStatusPending         = "pending"
	PostStatusPublishing      = "publishing"
	PostStatusPublished       = "published"
	PostStatusPartiallyFailed = "partially_failed"
	PostStatusFailed          = "failed"
	PostStatusCanceled        = "canceled"
)

const (
	TargetStatusPending    = "pending"
	TargetStatusInProgress = "in_progress"
	TargetStatusPublished  = "published"
	TargetStatusFailed     = "failed"
)

// DerivePostStatus computes the overall post status from its target
// statuses. It is a pure function of the target rows, so the stored
// value can always be recomputed and checked against them.
func DerivePostStatus(targets []*PostTarget) string {
	if len(targets) == 0 {
		return PostStatusFailed
	}

	published := 0
	failed := 0
	for _, t := range targets {
		switch t.Status {
		case TargetStatusPublished:
			published++
		case TargetStatusFailed:
			failed++
		default:
			return PostStatusPublishing
		}
	}

	switch {
	case failed == 0:
		return PostStatusPublished
	case published == 0:
		return PostStatusFailed
	default:
		return PostStatusPartiallyFailed
	}
}
