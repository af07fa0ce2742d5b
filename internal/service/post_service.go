package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/repository"
	"github.com/postpilot-app/postpilot/internal/transfer"
)

const scheduleTimeLayout = "2006-01-02T15:04"

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostStatus(ctx context.Context, postID, userID int64) (*transfer.PostStatusView, error)
	Cancel(ctx context.Context, userID, postID int64) error
	PrepareRetry(ctx context.Context, userID, postID int64, platform string) error
}

type postService struct {
	db *sql.DB
	pr repository.PostRepository
	pt repository.PostTargetRepository
	ma repository.MediaAssetRepository
	pm repository.PostMediaRepository
	r2 R2Service
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	pt repository.PostTargetRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	r2 R2Service) PostService {
	return &postService{
		db: db,
		pr: pr,
		pt: pt,
		ma: ma,
		pm: pm,
		r2: r2,
	}
}

// ParseTargets decodes and validates the per-platform content map.
// At least one known platform must be enabled.
func ParseTargets(raw string) (map[string]transfer.TargetContent, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptySelection
	}

	var targets map[string]transfer.TargetContent
	if err := json.Unmarshal([]byte(raw), &targets); err != nil {
		return nil, fmt.Errorf("invalid targets format: %w", err)
	}
	if len(targets) == 0 {
		return nil, ErrEmptySelection
	}

	for platform := range targets {
		if !models.IsValidPlatform(platform) {
			return nil, fmt.Errorf("unknown platform %q", platform)
		}
	}
	return targets, nil
}

// ParseSchedule resolves the requested instant in the user's zone.
// An empty instant means publish now. Returns the UTC instant, the zone
// name that was stored, and the dispatch delay (zero for due posts).
func ParseSchedule(scheduledAt, timezone string, now time.Time) (time.Time, string, time.Duration, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, "", 0, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	if scheduledAt == "" {
		return now.UTC(), timezone, 0, nil
	}

	t, err := time.ParseInLocation(scheduleTimeLayout, scheduledAt, loc)
	if err != nil {
		return time.Time{}, "", 0, fmt.Errorf("invalid scheduled time format: %w", err)
	}

	delay := t.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return t.UTC(), timezone, delay, nil
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, 0, err
	}

	targets, err := ParseTargets(pc.Targets)
	if err != nil {
		slog.Info(err.Error())
		return 0, 0, err
	}

	scheduledAt, timezone, delay, err := ParseSchedule(pc.ScheduledAt, pc.Timezone, time.Now())
	if err != nil {
		slog.Info(err.Error())
		return 0, 0, err
	}

	status := models.PostStatusPending
	if delay > 0 {
		status = models.PostStatusDraft
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:      userID,
		Status:      status,
		ScheduledAt: scheduledAt,
		Timezone:    timezone,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, 0, fmt.Errorf("error creating post: %w", err)
	}

	for platform, content := range targets {
		target := models.PostTarget{
			PostID:   postID,
			Platform: platform,
			Title:    content.Title,
			Caption:  content.Caption,
			Tags:     strings.Join(content.Tags, ","),
			Status:   models.TargetStatusPending,
		}
		if err = s.pt.Create(ctx, tx, &target); err != nil {
			return 0, 0, fmt.Errorf("error saving target for %s: %w", platform, err)
		}
	}

	if err = s.processFiles(ctx, tx, userID, postID, files); err != nil {
		return 0, 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, delay, nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) error {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, contentType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	if err = s.r2.Upload(ctx, id, file, contentType); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: contentType,
		FileSize: int64(len(file)),
		FileURL:  s.r2.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) PostStatus(ctx context.Context, postID, userID int64) (*transfer.PostStatusView, error) {
	if err := s.checkOwnership(ctx, postID, userID); err != nil {
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post info")
	}
	if post == nil {
		return nil, ErrPostNotFound
	}

	targets, err := s.pt.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post targets")
	}

	view := &transfer.PostStatusView{
		PostID:      post.ID,
		Status:      post.Status,
		ScheduledAt: post.ScheduledAt.Format(time.RFC3339),
		Timezone:    post.Timezone,
	}
	for _, t := range targets {
		view.Targets = append(view.Targets, transfer.TargetStatus{
			Platform:     t.Platform,
			Status:       t.Status,
			ExternalID:   t.ExternalID,
			ErrorKind:    t.ErrorKind,
			ErrorMessage: t.ErrorMessage,
		})
	}
	return view, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting posts")
	}
	return posts, nil
}

// Cancel withdraws a post that has not been dispatched yet. The guarded
// transition fails once fan-out has started, because in-flight platform
// attempts always run to their terminal outcome.
func (s *postService) Cancel(ctx context.Context, userID, postID int64) error {
	if err := s.checkOwnership(ctx, postID, userID); err != nil {
		return err
	}

	ok, err := s.pr.TransitionStatus(ctx, postID, models.PostStatusCanceled,
		models.PostStatusDraft, models.PostStatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancelable
	}
	return nil
}

// PrepareRetry re-arms a single failed platform for a fresh attempt.
// The caller enqueues the dispatch after this succeeds. Re-arming a
// target that is still pending is a no-op success, so a retry whose
// dispatch never got enqueued can simply be requested again.
func (s *postService) PrepareRetry(ctx context.Context, userID, postID int64, platform string) error {
	if !models.IsValidPlatform(platform) {
		return fmt.Errorf("unknown platform %q", platform)
	}

	if err := s.checkOwnership(ctx, postID, userID); err != nil {
		return err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return ErrPostNotFound
	}
	switch post.Status {
	case models.PostStatusPublishing, models.PostStatusPublished,
		models.PostStatusPartiallyFailed, models.PostStatusFailed:
	default:
		// Posts that were never dispatched are owned by the scheduler.
		return ErrNotRetryable
	}

	ok, err := s.pt.ResetForRetry(ctx, postID, platform)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRetryable
	}
	return nil
}

func (s *postService) checkOwnership(ctx context.Context, postID, userID int64) error {
	if userID == 0 {
		err := errors.New("User is not valid")
		slog.Info(err.Error())
		return err
	}
	if postID == 0 {
		err := errors.New("post id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		slog.Info(ErrPostNotFound.Error())
		return ErrPostNotFound
	}
	return nil
}
