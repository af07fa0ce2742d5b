package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/postpilot-app/postpilot/internal/service"
)

func TestParseTargets(t *testing.T) {
	targets, err := service.ParseTargets(`{
		"youtube": {"title": "My video", "caption": "desc", "tags": ["go", "web"]},
		"vk": {"caption": "hello"}
	}`)
	if err != nil {
		t.Fatalf("ParseTargets() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
	if targets["youtube"].Title != "My video" {
		t.Errorf("youtube title = %q", targets["youtube"].Title)
	}
	if targets["vk"].Caption != "hello" {
		t.Errorf("vk caption = %q", targets["vk"].Caption)
	}
}

func TestParseTargetsEmptySelection(t *testing.T) {
	for _, raw := range []string{"", "   ", "{}"} {
		_, err := service.ParseTargets(raw)
		if !errors.Is(err, service.ErrEmptySelection) {
			t.Errorf("ParseTargets(%q) error = %v, want ErrEmptySelection", raw, err)
		}
	}
}

func TestParseTargetsRejectsUnknownPlatform(t *testing.T) {
	_, err := service.ParseTargets(`{"myspace": {"caption": "hi"}}`)
	if err == nil {
		t.Fatal("expected error for unknown platform")
	}
	if errors.Is(err, service.ErrEmptySelection) {
		t.Error("unknown platform should not report an empty selection")
	}
}

func TestParseTargetsRejectsMalformedJSON(t *testing.T) {
	_, err := service.ParseTargets(`{"youtube": `)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseScheduleImmediate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	at, tz, delay, err := service.ParseSchedule("", "", now)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if !at.Equal(now) {
		t.Errorf("instant = %v, want %v", at, now)
	}
	if tz != "UTC" {
		t.Errorf("timezone = %q, want UTC", tz)
	}
	if delay != 0 {
		t.Errorf("delay = %v, want 0", delay)
	}
}

func TestParseScheduleFuture(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	at, tz, delay, err := service.ParseSchedule("2025-06-01T14:30", "UTC", now)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if tz != "UTC" {
		t.Errorf("timezone = %q, want UTC", tz)
	}
	if want := 2*time.Hour + 30*time.Minute; delay != want {
		t.Errorf("delay = %v, want %v", delay, want)
	}
	if want := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC); !at.Equal(want) {
		t.Errorf("instant = %v, want %v", at, want)
	}
}

func TestParseScheduleInUserZone(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 14:30 in Berlin is 12:30 UTC during DST.
	at, _, delay, err := service.ParseSchedule("2025-06-01T14:30", "Europe/Berlin", now)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if want := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC); !at.Equal(want) {
		t.Errorf("instant = %v, want %v", at, want)
	}
	if delay != 30*time.Minute {
		t.Errorf("delay = %v, want 30m", delay)
	}
}

func TestParseSchedulePastClampsToNow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, _, delay, err := service.ParseSchedule("2025-06-01T08:00", "UTC", now)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if delay != 0 {
		t.Errorf("delay = %v, want 0 for past instant", delay)
	}
}

func TestParseScheduleInvalidInput(t *testing.T) {
	now := time.Now()

	if _, _, _, err := service.ParseSchedule("tomorrow", "UTC", now); err == nil {
		t.Error("expected error for unparseable time")
	}
	if _, _, _, err := service.ParseSchedule("2025-06-01T08:00", "Mars/Olympus", now); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
