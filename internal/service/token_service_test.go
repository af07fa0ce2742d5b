package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	config "github.com/postpilot-app/postpilot/configs"
	"github.com/postpilot-app/postpilot/internal/models"
	"github.com/postpilot-app/postpilot/internal/publisher"
	"github.com/postpilot-app/postpilot/internal/service"
	"github.com/postpilot-app/postpilot/pkg/utils"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

// stubAccountRepo keeps accounts in memory and counts SetToken calls.
type stubAccountRepo struct {
	mu            sync.RWMutex
	accounts      map[int64]*models.SocialAccount
	setTokenCalls int
}

func newStubAccountRepo(accounts ...*models.SocialAccount) *stubAccountRepo {
	m := make(map[int64]*models.SocialAccount)
	for _, a := range accounts {
		m[a.ID] = a
	}
	return &stubAccountRepo{accounts: m}
}

func (r *stubAccountRepo) Upsert(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sa.ID == 0 {
		sa.ID = int64(len(r.accounts) + 1)
	}
	r.accounts[sa.ID] = sa
	return sa.ID, nil
}

func (r *stubAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (r *stubAccountRepo) GetActive(ctx context.Context, userID int64, platform string) (*models.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acc := range r.accounts {
		if acc.UserID == userID && acc.Platform == platform && acc.AccountStatus == models.AccountStatusActive {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubAccountRepo) ListActiveByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.SocialAccount
	for _, acc := range r.accounts {
		if acc.UserID == userID && acc.AccountStatus == models.AccountStatusActive {
			cp := *acc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubAccountRepo) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.SocialAccount
	for _, acc := range r.accounts {
		if acc.TokenExpiresAt.After(initialTime) && acc.TokenExpiresAt.Before(finalTime) {
			cp := *acc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubAccountRepo) SetToken(ctx context.Context, accountID int64, oldAccessToken string, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.accounts[accountID]
	if !ok {
		return errors.New("account not found")
	}
	if current.AccessToken != oldAccessToken {
		return nil // someone else already rotated, keep theirs
	}
	r.setTokenCalls++
	cp := *sa
	if cp.RefreshToken == "" {
		cp.RefreshToken = current.RefreshToken
	}
	r.accounts[accountID] = &cp
	return nil
}

func (r *stubAccountRepo) Deactivate(ctx context.Context, userID int64, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.UserID == userID && acc.Platform == platform {
			acc.AccountStatus = models.AccountStatusInactive
		}
	}
	return nil
}

// fakePublisher returns scripted credentials and records calls.
type fakePublisher struct {
	platform     string
	refreshCred  *publisher.Credential
	refreshErr   error
	refreshCalls int
}

func (p *fakePublisher) Platform() string { return p.platform }

func (p *fakePublisher) ExchangeCode(ctx context.Context, code string) (*publisher.Credential, *publisher.Profile, error) {
	return nil, nil, errors.New("not implemented")
}

func (p *fakePublisher) RefreshToken(ctx context.Context, refreshToken string) (*publisher.Credential, error) {
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refreshCred, nil
}

func (p *fakePublisher) Publish(ctx context.Context, accessToken string, target *models.PostTarget, media []*models.MediaAsset) (string, error) {
	return "", errors.New("not implemented")
}

func encryptOrDie(t *testing.T, plaintext string) string {
	t.Helper()
	enc, err := utils.Encrypt([]byte(plaintext), []byte(testSecretKey))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return enc
}

func testAccount(t *testing.T, expiresAt time.Time) *models.SocialAccount {
	t.Helper()
	return &models.SocialAccount{
		ID:             1,
		UserID:         7,
		Platform:       models.PlatformYoutube,
		AccessToken:    encryptOrDie(t, "old-access"),
		RefreshToken:   encryptOrDie(t, "old-refresh"),
		TokenExpiresAt: expiresAt,
		AccountStatus:  models.AccountStatusActive,
	}
}

func newRefresher(repo *stubAccountRepo, pub publisher.Publisher) service.TokenRefresher {
	cfg := config.Config{SecretKey: testSecretKey}
	return service.NewTokenRefresher(cfg, repo, map[string]publisher.Publisher{
		models.PlatformYoutube: pub,
	})
}

func TestEnsureFreshSkipsValidToken(t *testing.T) {
	acc := testAccount(t, time.Now().Add(time.Hour))
	repo := newStubAccountRepo(acc)
	pub := &fakePublisher{platform: models.PlatformYoutube}

	got, err := newRefresher(repo, pub).EnsureFresh(context.Background(), acc)
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if got.AccessToken != acc.AccessToken {
		t.Error("token should be unchanged")
	}
	if pub.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", pub.refreshCalls)
	}
}

func TestEnsureFreshRefreshesNearExpiry(t *testing.T) {
	acc := testAccount(t, time.Now().Add(10*time.Second))
	repo := newStubAccountRepo(acc)
	pub := &fakePublisher{
		platform: models.PlatformYoutube,
		refreshCred: &publisher.Credential{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}

	got, err := newRefresher(repo, pub).EnsureFresh(context.Background(), acc)
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if pub.refreshCalls != 1 {
		t.Fatalf("refresh calls = %d, want 1", pub.refreshCalls)
	}

	decrypted, err := utils.Decrypt(got.AccessToken, []byte(testSecretKey))
	if err != nil {
		t.Fatalf("decrypt new token: %v", err)
	}
	if decrypted != "new-access" {
		t.Errorf("access token = %q, want new-access", decrypted)
	}
	if repo.setTokenCalls != 1 {
		t.Errorf("SetToken calls = %d, want 1", repo.setTokenCalls)
	}
}

func TestForceRefreshKeepsRecordOnFailure(t *testing.T) {
	acc := testAccount(t, time.Now().Add(10*time.Second))
	repo := newStubAccountRepo(acc)
	pub := &fakePublisher{
		platform:   models.PlatformYoutube,
		refreshErr: publisher.NewError(publisher.KindTransient, models.PlatformYoutube, "token endpoint down"),
	}

	_, err := newRefresher(repo, pub).ForceRefresh(context.Background(), acc)
	if err == nil {
		t.Fatal("ForceRefresh() expected error")
	}

	stored, _ := repo.GetByID(context.Background(), acc.ID)
	if stored.AccessToken != acc.AccessToken {
		t.Error("stored token must not change when the refresh fails")
	}
	if repo.setTokenCalls != 0 {
		t.Errorf("SetToken calls = %d, want 0", repo.setTokenCalls)
	}
}

func TestForceRefreshMapsAuthRejection(t *testing.T) {
	acc := testAccount(t, time.Now().Add(10*time.Second))
	repo := newStubAccountRepo(acc)
	pub := &fakePublisher{
		platform:   models.PlatformYoutube,
		refreshErr: publisher.NewError(publisher.KindAuth, models.PlatformYoutube, "invalid_grant"),
	}

	_, err := newRefresher(repo, pub).ForceRefresh(context.Background(), acc)
	if publisher.KindOf(err) != publisher.KindCredentialExpired {
		t.Errorf("KindOf = %q, want credential_expired", publisher.KindOf(err))
	}
}

func TestForceRefreshSkipsWhenAlreadyRotated(t *testing.T) {
	// The stored record was refreshed by someone else after the caller
	// loaded its copy, so the refresher must keep the newer token.
	fresh := testAccount(t, time.Now().Add(time.Hour))
	repo := newStubAccountRepo(fresh)
	pub := &fakePublisher{platform: models.PlatformYoutube}

	stale := *fresh
	stale.TokenExpiresAt = time.Now().Add(-time.Minute)

	got, err := newRefresher(repo, pub).ForceRefresh(context.Background(), &stale)
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if !got.TokenExpiresAt.Equal(fresh.TokenExpiresAt) {
		t.Error("should have returned the already-rotated record")
	}
	if pub.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", pub.refreshCalls)
	}
}

func TestForceRefreshWithoutRefreshCredential(t *testing.T) {
	acc := testAccount(t, time.Now().Add(10*time.Second))
	acc.RefreshToken = ""
	repo := newStubAccountRepo(acc)
	pub := &fakePublisher{platform: models.PlatformYoutube}

	_, err := newRefresher(repo, pub).ForceRefresh(context.Background(), acc)
	if publisher.KindOf(err) != publisher.KindCredentialExpired {
		t.Errorf("KindOf = %q, want credential_expired", publisher.KindOf(err))
	}
	if pub.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", pub.refreshCalls)
	}
}
