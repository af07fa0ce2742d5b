package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/transfer"
)

const (
	instagramTokenURL = "https://api.instagram.com/oauth/access_token"
	instagramGraphURL = "https://graph.instagram.com/v21.0"
)

type instagramPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewInstagramPublisher(cfg config.Config) Publisher {
	return &instagramPublisher{cfg: cfg, client: newHTTPClient()}
}

func (p *instagramPublisher) Platform() string {
	return models.PlatformInstagram
}

func (p *instagramPublisher) ExchangeCode(ctx context.Context, code string) (*Credential, *Profile, error) {
	if code == "" {
		return nil, nil, NewError(KindValidation, p.Platform(), "authorization code is empty")
	}

	data := url.Values{}
	data.Set("client_id", p.cfg.InstagramClientID)
	data.Set("client_secret", p.cfg.InstagramClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", p.cfg.InstagramRedirectURI)
	data.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instagramTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, WrapError(KindTransient, p.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var shortLived transfer.InstagramTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&shortLived); err != nil {
		slog.Info(err.Error())
		return nil, nil, WrapError(KindTransient, p.Platform(), err)
	}

	longLived, err := p.exchangeLongLivedToken(ctx, shortLived.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	userInfo, err := p.userInfo(ctx, longLived.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	cred := &Credential{
		AccessToken: longLived.AccessToken,
		// Instagram long-lived tokens refresh against themselves.
		RefreshToken: longLived.AccessToken,
		ExpiresAt:    expiresAt(longLived.ExpiresIn),
	}
	profile := &Profile{
		ID:       userInfo.UserID,
		Name:     userInfo.Name,
		Username: userInfo.Username,
		Picture:  userInfo.ProfilePicture,
	}
	return cred, profile, nil
}

func (p *instagramPublisher) exchangeLongLivedToken(ctx context.Context, shortLivedToken string) (*transfer.InstagramTokenResponse, error) {
	u := fmt.Sprintf("%s/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		instagramGraphURL, url.QueryEscape(p.cfg.InstagramClientSecret), url.QueryEscape(shortLivedToken))

	return p.tokenRequest(ctx, u)
}

func (p *instagramPublisher) RefreshToken(ctx context.Context, refreshToken string) (*Credential, error) {
	u := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		instagramGraphURL, url.QueryEscape(refreshToken))

	token, err := p.tokenRequest(ctx, u)
	if err != nil {
		return nil, err
	}

	return &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.AccessToken,
		ExpiresAt:    expiresAt(token.ExpiresIn),
	}, nil
}

func (p *instagramPublisher) tokenRequest(ctx context.Context, u string) (*transfer.InstagramTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, WrapError(KindTransient, p.Platform(), err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var token transfer.InstagramTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	return &token, nil
}

func (p *instagramPublisher) userInfo(ctx context.Context, accessToken string) (*transfer.InstagramUserInfo, error) {
	u := fmt.Sprintf("https://graph.instagram.com/me?fields=id,username,name,profile_picture_url&access_token=%s",
		url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, WrapError(KindTransient, p.Platform(), err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var userInfo transfer.InstagramUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	return &userInfo, nil
}

// Publish runs the Graph API two-step flow: create a media container for
// the image, then publish the container. The published container id is
// the external id.
func (p *instagramPublisher) Publish(ctx context.Context, accessToken string, target *models.PostTarget, media []*models.MediaAsset) (string, error) {
	if len(media) == 0 {
		return "", NewError(KindValidation, p.Platform(), "an image attachment is required")
	}

	containerID, err := p.createContainer(ctx, accessToken, target.Caption, media[0].FileURL)
	if err != nil {
		return "", err
	}

	return p.publishContainer(ctx, accessToken, containerID)
}

func (p *instagramPublisher) createContainer(ctx context.Context, accessToken, caption, imageURL string) (string, error) {
	payload := map[string]interface{}{
		"image_url":    imageURL,
		"caption":      caption,
		"access_token": accessToken,
	}

	result, err := p.graphPost(ctx, "me/media", payload)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", NewError(KindTransient, p.Platform(), "no container id returned")
	}
	return result.ID, nil
}

func (p *instagramPublisher) publishContainer(ctx context.Context, accessToken, containerID string) (string, error) {
	payload := map[string]interface{}{
		"creation_id":  containerID,
		"access_token": accessToken,
	}

	result, err := p.graphPost(ctx, "me/media_publish", payload)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", NewError(KindTransient, p.Platform(), "no media id returned")
	}
	return result.ID, nil
}

func (p *instagramPublisher) graphPost(ctx context.Context, path string, payload map[string]interface{}) (*transfer.InstagramMediaResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(KindTransient, p.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", instagramGraphURL, path), bytes.NewBuffer(body))
	if err != nil {
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var result transfer.InstagramMediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindTransient, p.Platform(), err)
	}
	return &result, nil
}
