package models

import (
	"time"
)

const (
	PlatformYoutube   = "youtube"
	PlatformInstagram = "instagram"
	PlatformTiktok    = "tiktok"
	PlatformVK        = "vk"
)

// Platforms is the fixed set of publishable platforms. Adding a platform
// means adding a tag here plus one publisher implementation.
var Platforms = []string{PlatformYoutube, PlatformInstagram, PlatformTiktok, PlatformVK}

func IsValidPlatform(platform string) bool {
	for _, p := range Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
)

type SocialAccount struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        string    `db:"platform" json:"platform"`
	AccountID       string    `db:"account_id" json:"account_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	ProfilePicture  string    `db:"profile_picture_url" json:"profile_picture"`
	AccessToken     string    `db:"access_token" json:"-"`
	RefreshToken    string    `db:"refresh_token" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	AccountStatus   string    `db:"account_status" json:"account_status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
