package publisher

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/postpilot-app/postpilot/internal/models"
)

// Credential is a plaintext token set for one linked account. Encryption
// at rest is the caller's concern; publishers only ever see decrypted
// tokens.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Profile struct {
	ID       string
	Name     string
	Username string
	Picture  string
}

// Publisher is the uniform per-platform capability: exchange an OAuth
// code, refresh a credential, and publish one target. Publish returns
// the platform-side id of the created artifact.
type Publisher interface {
	Platform() string
	ExchangeCode(ctx context.Context, code string) (*Credential, *Profile, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Credential, error)
	Publish(ctx context.Context, accessToken string, target *models.PostTarget, media []*models.MediaAsset) (string, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(b)
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func expiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
