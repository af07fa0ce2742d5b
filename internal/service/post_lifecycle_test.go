package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/service"
)

type memPostRepo struct {
	mu    sync.RWMutex
	posts map[int64]*models.Post
}

func (r *memPostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memPostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *memPostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, errors.New("not implemented")
}

func (r *memPostRepo) UpdateStatus(ctx context.Context, status string, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[postID]; ok {
		p.Status = status
	}
	return nil
}

func (r *memPostRepo) TransitionStatus(ctx context.Context, postID int64, to string, from ...string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *memPostRepo) ListDue(ctx context.Context, now time.Time) ([]*models.Post, error) {
	return nil, errors.New("not implemented")
}

func (r *memPostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posts[postID]
	return ok && p.UserID == userID, nil
}

type memTargetRepo struct {
	mu      sync.RWMutex
	posts   *memPostRepo
	targets map[string]*models.PostTarget
}

func (r *memTargetRepo) key(postID int64, platform string) string {
	return platform // single post per test
}

func (r *memTargetRepo) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) error {
	return errors.New("not implemented")
}

func (r *memTargetRepo) Get(ctx context.Context, postID int64, platform string) (*models.PostTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[r.key(postID, platform)]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.PostTarget
	for _, t := range r.targets {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTargetRepo) Claim(ctx context.Context, postID int64, platform string) (bool, error) {
	return false, errors.New("not implemented")
}

func (r *memTargetRepo) RecordOutcome(ctx context.Context, postID int64, platform, status, externalID, errorKind, errorMessage string) (string, error) {
	return "", errors.New("not implemented")
}

func (r *memTargetRepo) ResetForRetry(ctx context.Context, postID int64, platform string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[r.key(postID, platform)]
	if !ok || (t.Status != models.TargetStatusFailed && t.Status != models.TargetStatusPending) {
		return false, nil
	}
	t.Status = models.TargetStatusPending
	if r.posts != nil {
		r.posts.UpdateStatus(ctx, models.PostStatusPublishing, postID)
	}
	return true, nil
}

func newLifecycleService(posts *memPostRepo, targets *memTargetRepo) service.PostService {
	return service.NewPostService(nil, posts, targets, nil, nil, service.R2Service{})
}

func TestCancelPendingPost(t *testing.T) {
	posts := &memPostRepo{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPending},
	}}
	s := newLifecycleService(posts, &memTargetRepo{})

	if err := s.Cancel(context.Background(), 7, 1); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if posts.posts[1].Status != models.PostStatusCanceled {
		t.Errorf("status = %q, want canceled", posts.posts[1].Status)
	}
}

func TestCancelRejectsDispatchedPost(t *testing.T) {
	for _, status := range []string{
		models.PostStatusPublishing,
		models.PostStatusPublished,
		models.PostStatusPartiallyFailed,
		models.PostStatusCanceled,
	} {
		posts := &memPostRepo{posts: map[int64]*models.Post{
			1: {ID: 1, UserID: 7, Status: status},
		}}
		s := newLifecycleService(posts, &memTargetRepo{})

		err := s.Cancel(context.Background(), 7, 1)
		if !errors.Is(err, service.ErrNotCancelable) {
			t.Errorf("Cancel() with status %q error = %v, want ErrNotCancelable", status, err)
		}
		if posts.posts[1].Status != status {
			t.Errorf("status changed to %q from %q", posts.posts[1].Status, status)
		}
	}
}

func TestCancelRejectsForeignPost(t *testing.T) {
	posts := &memPostRepo{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPending},
	}}
	s := newLifecycleService(posts, &memTargetRepo{})

	err := s.Cancel(context.Background(), 99, 1)
	if !errors.Is(err, service.ErrPostNotFound) {
		t.Errorf("Cancel() error = %v, want ErrPostNotFound", err)
	}
}

func TestPrepareRetryFailedTarget(t *testing.T) {
	posts := &memPostRepo{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPartiallyFailed},
	}}
	targets := &memTargetRepo{targets: map[string]*models.PostTarget{
		models.PlatformVK: {PostID: 1, Platform: models.PlatformVK, Status: models.TargetStatusFailed},
	}}
	s := newLifecycleService(posts, targets)

	if err := s.PrepareRetry(context.Background(), 7, 1, models.PlatformVK); err != nil {
		t.Fatalf("PrepareRetry() error = %v", err)
	}

	if targets.targets[models.PlatformVK].Status != models.TargetStatusPending {
		t.Errorf("target status = %q, want pending", targets.targets[models.PlatformVK].Status)
	}
}

func TestPrepareRetryRepeatable(t *testing.T) {
	// The first retry's dispatch can get lost before it is enqueued, so
	// re-arming an already pending target must succeed again rather
	// than strand it.
	posts := &memPostRepo{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPartiallyFailed},
	}}
	targets := &memTargetRepo{posts: posts, targets: map[string]*models.PostTarget{
		models.PlatformVK: {PostID: 1, Platform: models.PlatformVK, Status: models.TargetStatusFailed},
	}}
	s := newLifecycleService(posts, targets)

	if err := s.PrepareRetry(context.Background(), 7, 1, models.PlatformVK); err != nil {
		t.Fatalf("first PrepareRetry() error = %v", err)
	}
	if err := s.PrepareRetry(context.Background(), 7, 1, models.PlatformVK); err != nil {
		t.Fatalf("second PrepareRetry() error = %v", err)
	}

	if targets.targets[models.PlatformVK].Status != models.TargetStatusPending {
		t.Errorf("target status = %q, want pending", targets.targets[models.PlatformVK].Status)
	}
}

func TestPrepareRetryRejectsUndispatchedPost(t *testing.T) {
	// Pending targets of a post the scheduler has not picked up yet
	// belong to the scheduled dispatch, not to the retry flow.
	for _, status := range []string{models.PostStatusDraft, models.PostStatusPending} {
		posts := &memPostRepo{posts: map[int64]*models.Post{
			1: {ID: 1, UserID: 7, Status: status},
		}}
		targets := &memTargetRepo{posts: posts, targets: map[string]*models.PostTarget{
			models.PlatformVK: {PostID: 1, Platform: models.PlatformVK, Status: models.TargetStatusPending},
		}}
		s := newLifecycleService(posts, targets)

		err := s.PrepareRetry(context.Background(), 7, 1, models.PlatformVK)
		if !errors.Is(err, service.ErrNotRetryable) {
			t.Errorf("PrepareRetry() with post status %q error = %v, want ErrNotRetryable", status, err)
		}
		if posts.posts[1].Status != status {
			t.Errorf("post status changed to %q from %q", posts.posts[1].Status, status)
		}
	}
}

func TestPrepareRetryRejectsNonFailedTarget(t *testing.T) {
	posts := &memPostRepo{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPublished},
	}}
	targets := &memTargetRepo{targets: map[string]*models.PostTarget{
		models.PlatformVK: {PostID: 1, Platform: models.PlatformVK, Status: models.TargetStatusPublished},
	}}
	s := newLifecycleService(posts, targets)

	err := s.PrepareRetry(context.Background(), 7, 1, models.PlatformVK)
	if !errors.Is(err, service.ErrNotRetryable) {
		t.Errorf("PrepareRetry() error = %v, want ErrNotRetryable", err)
	}
}

func TestPrepareRetryRejectsUnknownPlatform(t *testing.T) {
	posts := &memPostRepo{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPartiallyFailed},
	}}
	s := newLifecycleService(posts, &memTargetRepo{})

	if err := s.PrepareRetry(context.Background(), 7, 1, "friendster"); err == nil {
		t.Error("expected error for unknown platform")
	}
}
