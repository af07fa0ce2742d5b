package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/publisher"
	"github.com/postpilot-app/postpilot/internal/repository"
	"github.com/postpilot-app/postpilot/internal/service"
	"github.com/postpilot-app/postpilot/pkg/utils"
)

const defaultConcurrency = 10

// Orchestrator fans one post out to every enabled platform. Platforms
// are handled independently: one platform failing never aborts or rolls
// back the others, and partial success is an expected outcome.
type Orchestrator struct {
	cfg         config.Config
	pr          repository.PostRepository
	pt          repository.PostTargetRepository
	sa          repository.SocialAccountRepository
	ma          repository.MediaAssetRepository
	ph          repository.PostingHistoryRepository
	refresher   service.TokenRefresher
	publishers  map[string]publisher.Publisher
	policy      publisher.RetryPolicy
	concurrency int
}

func New(
	cfg config.Config,
	pr repository.PostRepository,
	pt repository.PostTargetRepository,
	sa repository.SocialAccountRepository,
	ma repository.MediaAssetRepository,
	ph repository.PostingHistoryRepository,
	refresher service.TokenRefresher,
	publishers map[string]publisher.Publisher) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		pr:          pr,
		pt:          pt,
		sa:          sa,
		ma:          ma,
		ph:          ph,
		refresher:   refresher,
		publishers:  publishers,
		policy:      publisher.DefaultRetryPolicy(),
		concurrency: defaultConcurrency,
	}
}

// PublishPost dispatches every still-pending target of a post. Dispatch
// is at-least-once (the scheduler may re-deliver after a restart), so
// each target is claimed with a conditional update before its publisher
// is invoked; a lost claim means another run owns that target.
func (o *Orchestrator) PublishPost(ctx context.Context, postID int64) error {
	post, err := o.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %d not found", postID)
	}

	claimed, err := o.pr.TransitionStatus(ctx, postID, models.PostStatusPublishing,
		models.PostStatusDraft, models.PostStatusPending)
	if err != nil {
		return err
	}
	if !claimed {
		// Canceled or terminal posts are dropped; a post already in
		// publishing is resumed so a crashed run's unclaimed targets
		// still get their attempt.
		current, err := o.pr.GetByID(ctx, postID)
		if err != nil {
			return err
		}
		if current == nil {
			slog.Info(fmt.Sprintf("post %d no longer exists, skipping dispatch", postID))
			return nil
		}
		if current.Status != models.PostStatusPublishing {
			slog.Info(fmt.Sprintf("post %d is %s, skipping dispatch", postID, current.Status))
			return nil
		}
	}

	targets, err := o.pt.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, o.concurrency)

	for _, target := range targets {
		if target.Status != models.TargetStatusPending {
			continue
		}

		won, err := o.pt.Claim(ctx, postID, target.Platform)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if !won {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func(target *models.PostTarget) {
			defer wg.Done()
			defer func() { <-semaphore }()
			o.publishTarget(ctx, post, target)
		}(target)
	}

	wg.Wait()
	return nil
}

// PublishTarget runs a single-platform attempt, used when a user retries
// one failed platform of an otherwise settled post.
func (o *Orchestrator) PublishTarget(ctx context.Context, postID int64, platform string) error {
	post, err := o.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %d not found", postID)
	}

	target, err := o.pt.Get(ctx, postID, platform)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("post %d has no %s target", postID, platform)
	}

	won, err := o.pt.Claim(ctx, postID, platform)
	if err != nil {
		return err
	}
	if !won {
		slog.Info(fmt.Sprintf("target (%d, %s) already claimed", postID, platform))
		return nil
	}

	o.publishTarget(ctx, post, target)
	return nil
}

// publishTarget owns a claimed target from here to its terminal status.
// Every path ends in exactly one recordOutcome call.
func (o *Orchestrator) publishTarget(ctx context.Context, post *models.Post, target *models.PostTarget) {
	pub, ok := o.publishers[target.Platform]
	if !ok {
		o.recordOutcome(ctx, post, target, 0, "", publisher.NewError(publisher.KindNotConnected, target.Platform, "no publisher registered"))
		return
	}

	account, err := o.sa.GetActive(ctx, post.UserID, target.Platform)
	if err != nil {
		o.recordOutcome(ctx, post, target, 0, "", publisher.WrapError(publisher.KindTransient, target.Platform, err))
		return
	}
	if account == nil {
		o.recordOutcome(ctx, post, target, 0, "", publisher.NewError(publisher.KindNotConnected, target.Platform, "platform is not connected"))
		return
	}

	account, err = o.refresher.EnsureFresh(ctx, account)
	if err != nil {
		o.recordOutcome(ctx, post, target, 0, "", err)
		return
	}

	media, err := o.ma.ListByPostID(ctx, post.ID)
	if err != nil {
		o.recordOutcome(ctx, post, target, account.ID, "", publisher.WrapError(publisher.KindTransient, target.Platform, err))
		return
	}

	externalID, err := o.attempt(ctx, pub, account, target, media)
	if err != nil && publisher.KindOf(err) == publisher.KindAuth {
		// The platform rejected a token that looked fresh. Refresh once
		// and retry exactly once more before giving up.
		refreshed, refreshErr := o.refresher.ForceRefresh(ctx, account)
		if refreshErr != nil {
			err = refreshErr
		} else {
			account = refreshed
			externalID, err = o.attempt(ctx, pub, account, target, media)
		}
	}

	o.recordOutcome(ctx, post, target, account.ID, externalID, err)
}

func (o *Orchestrator) attempt(ctx context.Context, pub publisher.Publisher, account *models.SocialAccount, target *models.PostTarget, media []*models.MediaAsset) (string, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(o.cfg.SecretKey))
	if err != nil {
		return "", publisher.WrapError(publisher.KindTransient, target.Platform, err)
	}

	return o.policy.Do(ctx, func(ctx context.Context) (string, error) {
		return pub.Publish(ctx, accessToken, target, media)
	})
}

// recordOutcome writes the terminal per-target status (the repository
// recomputes the overall post status in the same transaction) and logs
// an audit row.
func (o *Orchestrator) recordOutcome(ctx context.Context, post *models.Post, target *models.PostTarget, accountID int64, externalID string, publishErr error) {
	status := models.TargetStatusPublished
	errorKind := ""
	errorMessage := ""
	if publishErr != nil {
		status = models.TargetStatusFailed
		errorKind = string(publisher.KindOf(publishErr))
		errorMessage = publishErr.Error()
		slog.Info(fmt.Sprintf("publish failed for post %d on %s: %v", post.ID, target.Platform, publishErr))
	}

	overall, err := o.pt.RecordOutcome(ctx, post.ID, target.Platform, status, externalID, errorKind, errorMessage)
	if err != nil {
		slog.Error(fmt.Sprintf("recording outcome for post %d on %s: %v", post.ID, target.Platform, err))
		return
	}
	slog.Info(fmt.Sprintf("post %d on %s: %s (overall %s)", post.ID, target.Platform, status, overall))

	history := models.PostingHistory{
		UserID:       post.UserID,
		PostID:       post.ID,
		Platform:     target.Platform,
		AccountID:    accountID,
		ExternalID:   externalID,
		ErrorMessage: errorMessage,
	}
	if _, err := o.ph.Create(ctx, &history); err != nil {
		slog.Info(fmt.Sprintf("saving posting history for post %d: %v", post.ID, err))
	}
}
