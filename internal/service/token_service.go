package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/publisher"
	"github.com/postpilot-app/postpilot/internal/repository"
	"github.com/postpilot-app/postpilot/pkg/utils"
)

// refreshMargin is how close to expiry a credential may get before a
// publish attempt forces a refresh first.
const refreshMargin = 60 * time.Second

type TokenRefresher interface {
	EnsureFresh(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error)
	ForceRefresh(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error)
}

// lockStripes bounds the refresh lock pool; accounts hash onto a
// stripe, so memory stays fixed no matter how many accounts exist.
const lockStripes = 64

type tokenRefresher struct {
	cfg        config.Config
	sa         repository.SocialAccountRepository
	publishers map[string]publisher.Publisher

	locks [lockStripes]sync.Mutex
}

func NewTokenRefresher(cfg config.Config, sa repository.SocialAccountRepository, publishers map[string]publisher.Publisher) TokenRefresher {
	return &tokenRefresher{
		cfg:        cfg,
		sa:         sa,
		publishers: publishers,
	}
}

// accountLock serializes refreshes per account so two refreshers cannot
// invalidate each other's newly issued credential. Distinct accounts on
// the same stripe only contend, they never corrupt each other.
func (s *tokenRefresher) accountLock(accountID int64) *sync.Mutex {
	return &s.locks[accountID%lockStripes]
}

func (s *tokenRefresher) EnsureFresh(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	if time.Now().Add(refreshMargin).Before(acc.TokenExpiresAt) {
		return acc, nil
	}
	return s.ForceRefresh(ctx, acc)
}

// ForceRefresh exchanges the account's refresh credential for a new
// token set and persists it. The stored record is left untouched when
// the exchange fails, so a still-working token is never thrown away.
func (s *tokenRefresher) ForceRefresh(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	lock := s.accountLock(acc.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	current, err := s.sa.GetByID(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, publisher.NewError(publisher.KindNotConnected, acc.Platform, "account no longer exists")
	}
	if time.Now().Add(refreshMargin).Before(current.TokenExpiresAt) {
		return current, nil
	}

	if current.RefreshToken == "" {
		return nil, publisher.NewError(publisher.KindCredentialExpired, current.Platform, "no refresh credential on record")
	}

	pub, ok := s.publishers[current.Platform]
	if !ok {
		return nil, publisher.NewError(publisher.KindNotConnected, current.Platform, "unknown platform")
	}

	decryptedRefreshToken, err := utils.Decrypt(current.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	cred, err := pub.RefreshToken(ctx, decryptedRefreshToken)
	if err != nil {
		slog.Info(err.Error())
		if publisher.KindOf(err) == publisher.KindAuth {
			return nil, publisher.NewError(publisher.KindCredentialExpired, current.Platform, "platform rejected the refresh credential")
		}
		return nil, err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(cred.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	var encryptedRefreshToken string
	if cred.RefreshToken != "" {
		encryptedRefreshToken, err = utils.Encrypt([]byte(cred.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return nil, err
		}
	}

	updated := *current
	updated.AccessToken = encryptedAccessToken
	updated.RefreshToken = encryptedRefreshToken
	updated.TokenExpiresAt = cred.ExpiresAt

	if err := s.sa.SetToken(ctx, current.ID, current.AccessToken, &updated); err != nil {
		return nil, err
	}

	if updated.RefreshToken == "" {
		updated.RefreshToken = current.RefreshToken
	}
	return &updated, nil
}
