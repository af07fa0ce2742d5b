package transfer

// TargetContent is the platform-specific part of a composition. The
// targets form field is a JSON object keyed by platform tag, so enabling
// a platform means including its key.
type TargetContent struct {
	Title   string   `json:"title"`
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
}

type PostCreation struct {
	Targets     string // JSON: platform tag -> TargetContent
	ScheduledAt string // "2006-01-02T15:04", empty means publish now
	Timezone    string // IANA zone name, empty means UTC
}

type TargetStatus struct {
	Platform     string `json:"platform"`
	Status       string `json:"status"`
	ExternalID   string `json:"external_id,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type PostStatusView struct {
	PostID      int64          `json:"post_id"`
	Status      string         `json:"status"`
	ScheduledAt string         `json:"scheduled_at,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Targets     []TargetStatus `json:"targets"`
}
