package models_test

import (
	"testing"

	"github.com/postpilot-app/postpilot/internal/models"
)

func targetsWith(statuses ...string) []*models.PostTarget {
	targets := make([]*models.PostTarget, 0, len(statuses))
	for i, status := range statuses {
		targets = append(targets, &models.PostTarget{
			PostID:   1,
			Platform: models.Platforms[i%len(models.Platforms)],
			Status:   status,
		})
	}
	return targets
}

func TestDerivePostStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{
			name:     "no targets",
			statuses: nil,
			want:     models.PostStatusFailed,
		},
		{
			name:     "all published",
			statuses: []string{models.TargetStatusPublished, models.TargetStatusPublished, models.TargetStatusPublished},
			want:     models.PostStatusPublished,
		},
		{
			name:     "all failed",
			statuses: []string{models.TargetStatusFailed, models.TargetStatusFailed},
			want:     models.PostStatusFailed,
		},
		{
			name:     "mixed outcome",
			statuses: []string{models.TargetStatusPublished, models.TargetStatusFailed},
			want:     models.PostStatusPartiallyFailed,
		},
		{
			name:     "single published",
			statuses: []string{models.TargetStatusPublished},
			want:     models.PostStatusPublished,
		},
		{
			name:     "still pending",
			statuses: []string{models.TargetStatusPublished, models.TargetStatusPending},
			want:     models.PostStatusPublishing,
		},
		{
			name:     "still in progress",
			statuses: []string{models.TargetStatusFailed, models.TargetStatusInProgress},
			want:     models.PostStatusPublishing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.DerivePostStatus(targetsWith(tt.statuses...))
			if got != tt.want {
				t.Errorf("DerivePostStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsValidPlatform(t *testing.T) {
	for _, p := range models.Platforms {
		if !models.IsValidPlatform(p) {
			t.Errorf("IsValidPlatform(%q) = false, want true", p)
		}
	}

	for _, p := range []string{"", "twitter", "YouTube"} {
		if models.IsValidPlatform(p) {
			t.Errorf("IsValidPlatform(%q) = true, want false", p)
		}
	}
}
