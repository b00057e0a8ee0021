package identity

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/bookingcal/project/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	users         map[string]User
	refreshByHash map[string]RefreshToken

	findErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         map[string]User{},
		refreshByHash: map[string]RefreshToken{},
	}
}

func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepo) CreateUser(ctx context.Context, user User) error {
	for _, u := range f.users {
		if u.Username == user.Username {
			return ErrDuplicateUser
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeRepo) FindUserByUsername(ctx context.Context, username string) (User, error) {
	if f.findErr != nil {
		return User{}, f.findErr
	}
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeRepo) FindUserByID(ctx context.Context, userID string) (User, error) {
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeRepo) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	f.refreshByHash[token.TokenHash] = token
	return nil
}

func (f *fakeRepo) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	rt, ok := f.refreshByHash[tokenHash]
	if !ok || rt.RevokedAt != nil {
		return RefreshToken{}, ErrNotFound
	}
	return rt, nil
}

func (f *fakeRepo) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	now := time.Now().UTC()
	for hash, rt := range f.refreshByHash {
		if rt.TokenID == tokenID {
			rt.RevokedAt = &now
			f.refreshByHash[hash] = rt
		}
	}
	return nil
}

func (f *fakeRepo) DeleteStaleRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for hash, rt := range f.refreshByHash {
		if rt.RevokedAt != nil || !rt.ExpiresAt.After(now) {
			delete(f.refreshByHash, hash)
			n++
		}
	}
	return n, nil
}

func newTestService(repo Repository) *Service {
	mgr := auth.NewManager("secret", time.Hour)
	mgr.Now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }
	svc := NewService(repo, mgr)
	svc.HashCost = bcrypt.MinCost
	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.Now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }
	return svc
}

func seeded(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	svc := newTestService(repo)
	if err := svc.Seed(context.Background(), "admin", "admin-password", []string{"Gauri", "Monica", "Shafoli"}, "team-password"); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	return svc, repo
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, repo := seeded(t)
	if len(repo.users) != 4 {
		t.Fatalf("expected 4 users, got %d", len(repo.users))
	}
	if err := svc.Seed(context.Background(), "admin", "other-password", []string{"Gauri"}, "other-password"); err != nil {
		t.Fatalf("second Seed error: %v", err)
	}
	if len(repo.users) != 4 {
		t.Fatalf("expected seeding to be idempotent, got %d users", len(repo.users))
	}
	if _, err := svc.Login(context.Background(), "gauri", "team-password"); err != nil {
		t.Fatalf("expected original password to survive reseeding: %v", err)
	}
}

func TestSeedRejectsShortPassword(t *testing.T) {
	svc := newTestService(newFakeRepo())
	err := svc.Seed(context.Background(), "admin", "12345", nil, "")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestLoginIsCaseInsensitive(t *testing.T) {
	svc, _ := seeded(t)
	resp, err := svc.Login(context.Background(), "  MONICA ", "team-password")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if resp.Username != "Monica" || resp.Role != RoleMember || resp.IsAdmin {
		t.Fatalf("unexpected session: %+v", resp)
	}
	claims, err := svc.CurrentUser(resp.AccessToken)
	if err != nil {
		t.Fatalf("CurrentUser error: %v", err)
	}
	if claims.Username != "Monica" || claims.IsAdmin() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginAdmin(t *testing.T) {
	svc, _ := seeded(t)
	resp, err := svc.Login(context.Background(), "Admin", "admin-password")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if !resp.IsAdmin {
		t.Fatalf("expected admin session: %+v", resp)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc, repo := seeded(t)
	for _, tc := range []struct{ name, password string }{
		{"gauri", "wrong-password"},
		{"nobody", "team-password"},
		{"", "team-password"},
	} {
		if _, err := svc.Login(context.Background(), tc.name, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%q: expected ErrInvalidCredentials, got %v", tc.name, err)
		}
	}

	repo.findErr = errors.New("db down")
	if _, err := svc.Login(context.Background(), "gauri", "team-password"); err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	login, err := svc.Login(ctx, "shafoli", "team-password")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatalf("expected a rotated refresh token")
	}
	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected reused token to be rejected, got %v", err)
	}
	if err := svc.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected logged out token to be rejected, got %v", err)
	}
	if err := svc.Logout(ctx, " "); !errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("expected ErrRefreshTokenMissing, got %v", err)
	}
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	_, err := svc.AddMember(ctx, auth.Claims{Subject: "x", Username: "Gauri", Role: auth.RoleMember}, "Priya", "priya-password")
	if !errors.Is(err, ErrForbiddenRole) {
		t.Fatalf("expected ErrForbiddenRole, got %v", err)
	}

	admin := auth.Claims{Subject: "x", Username: "admin", Role: auth.RoleAdmin}
	m, err := svc.AddMember(ctx, admin, "Priya", "priya-password")
	if err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if m.Name != "Priya" || m.Role != RoleMember {
		t.Fatalf("unexpected member: %+v", m)
	}
	if _, err := svc.AddMember(ctx, admin, "priya", "priya-password"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestRosterExcludesAdmin(t *testing.T) {
	svc, _ := seeded(t)
	roster, err := svc.Roster(context.Background())
	if err != nil {
		t.Fatalf("Roster error: %v", err)
	}
	if !reflect.DeepEqual(roster, []string{"Gauri", "Monica", "Shafoli"}) {
		t.Fatalf("unexpected roster: %v", roster)
	}
}

func TestPruneRefreshTokens(t *testing.T) {
	svc, repo := seeded(t)
	ctx := context.Background()
	if _, err := svc.Login(ctx, "gauri", "team-password"); err != nil {
		t.Fatal(err)
	}
	old, err := svc.Login(ctx, "monica", "team-password")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(ctx, old.RefreshToken); err != nil {
		t.Fatal(err)
	}

	n, err := svc.PruneRefreshTokens(ctx)
	if err != nil {
		t.Fatalf("PruneRefreshTokens error: %v", err)
	}
	if n != 1 || len(repo.refreshByHash) != 1 {
		t.Fatalf("expected one revoked token pruned, got n=%d remaining=%d", n, len(repo.refreshByHash))
	}
}
