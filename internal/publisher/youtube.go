package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type youtubePublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewYoutubePublisher(cfg config.Config) Publisher {
	return &youtubePublisher{cfg: cfg, client: newHTTPClient()}
}

func (p *youtubePublisher) Platform() string {
	return models.PlatformYoutube
}

func (p *youtubePublisher) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.GoogleClientID,
		ClientSecret: p.cfg.GoogleClientSecret,
		RedirectURL:  p.cfg.GoogleRedirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
			"https://www.googleapis.com/auth/youtube.upload",
		},
		Endpoint: google.Endpoint,
	}
}

func (p *youtubePublisher) ExchangeCode(ctx context.Context, code string) (*Credential, *Profile, error) {
	if code == "" {
		return nil, nil, NewError(KindValidation, p.Platform(), "authorization code is empty")
	}

	conf := p.oauthConfig()
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, WrapError(KindAuth, p.Platform(), err)
	}

	if token.RefreshToken == "" {
		return nil, nil, NewError(KindAuth, p.Platform(), "refresh token is empty")
	}

	userInfo, err := googleUserInfo(conf.Client(ctx, token))
	if err != nil {
		return nil, nil, err
	}

	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	profile := &Profile{
		ID:       userInfo.ID,
		Name:     userInfo.Name,
		Username: userInfo.Email,
		Picture:  userInfo.Picture,
	}
	return cred, profile, nil
}

func (p *youtubePublisher) RefreshToken(ctx context.Context, refreshToken string) (*Credential, error) {
	conf := p.oauthConfig()
	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := tokenSource.Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, WrapError(KindAuth, p.Platform(), err)
	}

	return &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func (p *youtubePublisher) Publish(ctx context.Context, accessToken string, target *models.PostTarget, media []*models.MediaAsset) (string, error) {
	if len(media) == 0 {
		return "", NewError(KindValidation, p.Platform(), "a video attachment is required")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		slog.Info(err.Error())
		return "", WrapError(KindTransient, p.Platform(), err)
	}

	tempFile, err := downloadToTempFile(ctx, p.client, media[0].FileURL)
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return "", WrapError(KindTransient, p.Platform(), err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       target.Title,
			Description: target.Caption,
			Tags:        splitTags(target.Tags),
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		return "", p.classifyAPIError(err)
	}

	return response.Id, nil
}

func (p *youtubePublisher) classifyAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return errorFromStatus(p.Platform(), apiErr.Code, apiErr.Message, 0)
	}
	return WrapError(KindTransient, p.Platform(), err)
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// downloadToTempFile pulls a stored media object down so it can be
// streamed into an upload API that does not accept source URLs.
func downloadToTempFile(ctx context.Context, client *http.Client, fileURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "upload-*.media")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("error building media request: %w", err)
	}

	response, err := client.Do(req)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("error downloading media: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("unexpected response status: %d", response.StatusCode)
	}

	if _, err = io.Copy(tempFile, response.Body); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("error saving media to temporary file: %w", err)
	}

	return tempFile.Name(), nil
}

func googleUserInfo(client *http.Client) (*googleProfile, error) {
	response, err := client.Get("https://www.googleapis.com/oauth2/v1/userinfo")
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error fetching user info: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status: %d", response.StatusCode)
	}

	var userInfo googleProfile
	if err := json.NewDecoder(response.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error decoding user info: %w", err)
	}

	return &userInfo, nil
}

type googleProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
