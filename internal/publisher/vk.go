package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/transfer"
)

const (
	vkTokenURL   = "https://oauth.vk.com/access_token"
	vkAPIURL     = "https://api.vk.com/method"
	vkAPIVersion = "5.199"
)

// VK error codes worth distinguishing; everything else maps to transient.
const (
	vkErrAuthFailed     = 5
	vkErrTooMany        = 6
	vkErrPermission     = 7
	vkErrInvalidRequest = 100
	vkErrCaptcha        = 14
)

type vkPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewVKPublisher(cfg config.Config) Publisher {
	return &vkPublisher{cfg: cfg, client: newHTTPClient()}
}

func (p *vkPublisher) Platform() string {
	return models.PlatformVK
}

func (p *vkPublisher) ExchangeCode(ctx context.Context, code string) (*Credential, *Profile, error) {
	if code == "" {
		return nil, nil, NewError(KindValidation, p.Platform(), "authorization code is empty")
	}

	q := url.Values{}
	q.Set("client_id", p.cfg.VKClientID)
	q.Set("client_secret", p.cfg.VKClientSecret)
	q.Set("redirect_uri", p.cfg.VKRedirectURI)
	q.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vkTokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, WrapError(KindTransient, p.Platform(), err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	var token transfer.VKTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		slog.Info(err.Error())
		return nil, nil, WrapError(KindTransient, p.Platform(), err)
	}
	if token.Error != "" {
		return nil, nil, NewError(KindAuth, p.Platform(), token.ErrorDescription)
	}

	user, err := p.userInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	expiry := time.Time{}
	if token.ExpiresIn > 0 {
		expiry = expiresAt(token.ExpiresIn)
	} else {
		// expires_in of 0 means a non-expiring token; keep the refresh
		// machinery away from it with a far-future expiry.
		expiry = time.Now().AddDate(10, 0, 0)
	}

	cred := &Credential{
		AccessToken: token.AccessToken,
		ExpiresAt:   expiry,
	}
	profile := &Profile{
		ID:       strconv.FormatInt(user.ID, 10),
		Name:     strings.TrimSpace(user.FirstName + " " + user.LastName),
		Username: user.ScreenName,
		Picture:  user.Photo,
	}
	return cred, profile, nil
}

// RefreshToken is unsupported: VK user tokens carry no refresh
// credential, so an expired token requires a full reconnect.
func (p *vkPublisher) RefreshToken(ctx context.Context, refreshToken string) (*Credential, error) {
	return nil, NewError(KindCredentialExpired, p.Platform(), "vk tokens cannot be refreshed; reconnect the account")
}

func (p *vkPublisher) userInfo(ctx context.Context, accessToken string) (*transfer.VKUser, error) {
	q := url.Values{}
	q.Set("fields", "screen_name,photo_100")
	q.Set("access_token", accessToken)
	q.Set("v", vkAPIVersion)

	var result transfer.VKUserResponse
	if err := p.apiCall(ctx, "users.get", q, &result); err != nil {
		return nil, err
	}
	if len(result.Response) == 0 {
		return nil, NewError(KindTransient, p.Platform(), "empty users.get response")
	}
	return &result.Response[0], nil
}

// Publish posts the caption (plus attachment URLs, which VK unfurls) to
// the user's wall and returns the wall post id.
func (p *vkPublisher) Publish(ctx context.Context, accessToken string, target *models.PostTarget, media []*models.MediaAsset) (string, error) {
	message := target.Caption
	if message == "" {
		message = target.Title
	}
	if message == "" && len(media) == 0 {
		return "", NewError(KindValidation, p.Platform(), "post has no text and no attachments")
	}

	q := url.Values{}
	q.Set("message", message)
	q.Set("access_token", accessToken)
	q.Set("v", vkAPIVersion)
	for _, asset := range media {
		q.Add("attachments", asset.FileURL)
	}

	var result transfer.VKWallPostResponse
	if err := p.apiCall(ctx, "wall.post", q, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", p.classifyAPIError(result.Error)
	}
	if result.Response == nil || result.Response.PostID == 0 {
		return "", NewError(KindTransient, p.Platform(), "no post id returned")
	}

	return strconv.FormatInt(result.Response.PostID, 10), nil
}

func (p *vkPublisher) apiCall(ctx context.Context, method string, q url.Values, out interface{}) error {
	u := fmt.Sprintf("%s/%s", vkAPIURL, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(q.Encode()))
	if err != nil {
		return WrapError(KindTransient, p.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return WrapError(KindTransient, p.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromStatus(p.Platform(), resp.StatusCode, readBody(resp), retryAfterHeader(resp))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Info(err.Error())
		return WrapError(KindTransient, p.Platform(), err)
	}
	return nil
}

// classifyAPIError maps VK's in-body error envelope, which arrives with
// HTTP 200, onto the failure taxonomy.
func (p *vkPublisher) classifyAPIError(vkErr *transfer.VKError) error {
	e := &Error{Platform: p.Platform(), Message: fmt.Sprintf("code %d: %s", vkErr.Code, vkErr.Message)}
	switch vkErr.Code {
	case vkErrAuthFailed:
		e.Kind = KindAuth
	case vkErrTooMany:
		e.Kind = KindRateLimited
		e.RetryAfter = time.Second
	case vkErrPermission, vkErrInvalidRequest, vkErrCaptcha:
		e.Kind = KindValidation
	default:
		e.Kind = KindTransient
	}
	return e
}
