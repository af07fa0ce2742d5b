package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/publisher"
	"github.com/postpilot-app/postpilot/internal/repository"
	"github.com/postpilot-app/postpilot/pkg/utils"
)

const (
	tiktokAuthURL    = "https://www.tiktok.com/v2/auth/authorize"
	googleAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	instagramAuthURL = "https://www.instagram.com/oauth/authorize"
	vkAuthURL        = "https://oauth.vk.com/authorize"
)

// PlatformService owns the account registry: linking a platform via its
// OAuth callback, listing connections, and soft-disconnecting.
type PlatformService interface {
	GetAuthURL(ctx context.Context, platform, tokenString string) string
	Connect(ctx context.Context, userID int64, platform, code string) (*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID int64, platform string) error
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
}

type platformService struct {
	cfg        config.Config
	sa         repository.SocialAccountRepository
	publishers map[string]publisher.Publisher
}

func NewPlatformService(cfg config.Config, sa repository.SocialAccountRepository, publishers map[string]publisher.Publisher) PlatformService {
	return &platformService{
		cfg:        cfg,
		sa:         sa,
		publishers: publishers,
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, platform, tokenString string) string {
	switch platform {
	case models.PlatformInstagram:
		params := url.Values{}
		params.Add("client_id", s.cfg.InstagramClientID)
		params.Add("scope", "instagram_business_basic,instagram_business_content_publish")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.InstagramRedirectURI)
		params.Add("state", tokenString)

		return fmt.Sprintf("%s?%s", instagramAuthURL, params.Encode())

	case models.PlatformTiktok:
		params := url.Values{}
		params.Add("client_key", s.cfg.TiktokClientKey)
		params.Add("scope", "user.info.basic,user.info.profile,video.publish,video.upload")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.TiktokRedirectURI)
		params.Add("state", tokenString)

		return fmt.Sprintf("%s?%s", tiktokAuthURL, params.Encode())

	case models.PlatformYoutube:
		params := url.Values{}
		params.Add("client_id", s.cfg.GoogleClientID)
		params.Add("redirect_uri", s.cfg.GoogleRedirectURI)
		params.Add("response_type", "code")
		params.Add("scope", "https://www.googleapis.com/auth/userinfo.profile https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/youtube.upload")
		params.Add("state", tokenString)
		params.Add("access_type", "offline")

		return fmt.Sprintf("%s?%s", googleAuthURL, params.Encode())

	case models.PlatformVK:
		params := url.Values{}
		params.Add("client_id", s.cfg.VKClientID)
		params.Add("redirect_uri", s.cfg.VKRedirectURI)
		params.Add("response_type", "code")
		params.Add("scope", "wall,offline")
		params.Add("state", tokenString)
		params.Add("v", "5.199")

		return fmt.Sprintf("%s?%s", vkAuthURL, params.Encode())

	default:
		return ""
	}
}

// Connect exchanges the callback code and upserts the account. The
// repository upsert overwrites any prior record for (user, platform), so
// connecting twice can never leave two active accounts.
func (s *platformService) Connect(ctx context.Context, userID int64, platform, code string) (*models.SocialAccount, error) {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	pub, ok := s.publishers[platform]
	if !ok {
		err := fmt.Errorf("unknown platform %q", platform)
		slog.Info(err.Error())
		return nil, err
	}

	cred, profile, err := pub.ExchangeCode(ctx, code)
	if err != nil {
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

	account := &models.SocialAccount{
		UserID:          userID,
		Platform:        platform,
		AccountID:       profile.ID,
		AccountName:     profile.Name,
		AccountUsername: profile.Username,
		ProfilePicture:  profile.Picture,
		AccessToken:     encryptedAccessToken,
		RefreshToken:    encryptedRefreshToken,
		TokenExpiresAt:  cred.ExpiresAt,
		AccountStatus:   models.AccountStatusActive,
	}

	id, err := s.sa.Upsert(ctx, nil, account)
	if err != nil {
		return nil, err
	}
	account.ID = id

	return account, nil
}

// Disconnect soft-deactivates the account. Disconnecting a platform that
// is not connected is a no-op success.
func (s *platformService) Disconnect(ctx context.Context, userID int64, platform string) error {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if !models.IsValidPlatform(platform) {
		err := fmt.Errorf("unknown platform %q", platform)
		slog.Info(err.Error())
		return err
	}

	return s.sa.Deactivate(ctx, userID, platform)
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting social accounts")
	}

	return accounts, nil
}
