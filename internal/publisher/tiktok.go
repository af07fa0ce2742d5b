package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/transfer"
)

const (
	tiktokTokenURL    = "https://open.tiktokapis.com/v2/oauth/token/"
	tiktokUserInfoURL = "https://open.tiktokapis.com/v2/user/info/?fields=open_id,avatar_url,display_name,username"
	tiktokUploadURL   = "https://open.tiktokapis.com/v2/post/publish/video/init/"
)

type tiktokPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewTiktokPublisher(cfg config.Config) Publisher {
	return &tiktokPublisher{cfg: cfg, client: newHTTPClient()}
}

func (p *tiktokPublisher) Platform() string {
	return models.PlatformTiktok
}

func (p *tiktokPublisher) ExchangeCode(ctx context.Context, code string) (*Credential, *Profile, error) {
	if code == "" {
		return nil, nil, NewError(KindValidation, p.Platform(), "authorization code is empty")
	}

	data := url.Values{}
	data.Set("client_key", p.cfg.TiktokClientKey)
	data.Set("client_secret", p.cfg.TiktokClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", p.cfg.TiktokRedirectURI)

	tokenResponse, err := p.tokenRequest(ctx, data)
	if err != nil {
		return nil, nil, err
	}

	userInfo, err := p.userInfo(ctx, tokenResponse.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	cred := &Credential{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    expiresAt(tokenResponse.ExpiresIn),
	}
	profile := &Profile{
		ID:       userInfo.Data.User.OpenID,
		Name:     userInfo.Data.User.DisplayName,
		Username: userInfo.Data.User.Username,
		Picture:  userInfo.Data.User.AvatarURL,
	}
	return cred, profile, nil
}

func (p *tiktokPublisher) RefreshToken(ctx context.Context, refreshToken string) (*Credential, error) {
	data := url.Values{}
	data.Set("client_key", p.cfg.TiktokClientKey)
	data.Set("client_secret", p.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	tokenResponse, err := p.tokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}

	return &Credential{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    expiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (p *tiktokPublisher) tokenRequest(ctx context.Context, data url.Values) (*transfer.TiktokTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}

	// The token endpoint reports failure inside a 200 body.
	if tokenResponse.Error != "" {
		return nil, NewError(KindAuth, p.Platform(), tokenResponse.ErrorDescription)
	}

	return &tokenResponse, nil
}

func (p *tiktokPublisher) userInfo(ctx context.Context, accessToken string) (*transfer.TikTokResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tiktokUserInfoURL, nil)
	if err != nil {
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var result transfer.TikTokResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}

	return &result, nil
}

// Publish initializes a video upload pulled from the stored media URL.
// TikTok processes the upload asynchronously; the returned publish id is
// the external handle for the attempt.
func (p *tiktokPublisher) Publish(ctx context.Context, accessToken string, target *models.PostTarget, media []*models.MediaAsset) (string, error) {
	if len(media) == 0 {
		return "", NewError(KindValidation, p.Platform(), "a video attachment is required")
	}

	uploadRequest := transfer.TiktokVideoUploadRequest{
		PostInfo: transfer.TiktokVideoPostInfo{
			Title:        target.Caption,
			PrivacyLevel: "PUBLIC_TO_EVERYONE",
		},
		SourceInfo: transfer.TiktokVideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: media[0].FileURL,
		},
	}

	jsonData, err := json.Marshal(uploadRequest)
	if err != nil {
		return "", WrapError(KindTransient, p.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokUploadURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", WrapError(KindTransient, p.Platform(), err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var result transfer.TikTokUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", WrapError(KindTransient, p.Platform(), err)
	}

	if result.Data.PublishID == "" {
		return "", NewError(KindTransient, p.Platform(), result.Error.Message)
	}

	return result.Data.PublishID, nil
}
