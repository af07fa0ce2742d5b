package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/repository"
	"github.com/postpilot-app/postpilot/internal/service"
)

type TokenRefreshJob struct {
	sr        repository.SocialAccountRepository
	refresher service.TokenRefresher
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, refresher service.TokenRefresher) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr:        sr,
		refresher: refresher,
	}
}

// RefreshTokens renews every active account whose token expires within
// the next 30 minutes, so publish-time refreshes stay the exception.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	accounts, err := c.sr.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			_, err := c.refresher.ForceRefresh(ctx, acc)
			if err != nil {
				slog.Info(fmt.Sprintf("Unable to refresh token for account %d (%s): %v", acc.ID, acc.Platform, err))
			}
		}(acc)
	}

	wg.Wait()
}
