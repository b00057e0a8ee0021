package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bookingcal/project/internal/platform/auth"
	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidUsername     = errors.New("name is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrForbiddenRole       = errors.New("insufficient permissions for this action")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

type AuthResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	IsAdmin      bool   `json:"is_admin"`
}

// Member is the public view of a roster entry.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	NewID      func() string
	RefreshTTL time.Duration
	Now        func() time.Time
	// HashCost is the bcrypt cost for new passwords.
	HashCost int
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		NewID:      nuid.Next,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return time.Now().UTC() },
		HashCost:   bcrypt.DefaultCost,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateCredentials(username, password string) error {
	if normalizeUsername(username) == "" {
		return ErrInvalidUsername
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) createUser(ctx context.Context, name, password, role string) (User, error) {
	if err := validateCredentials(name, password); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.HashCost)
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:           s.NewID(),
		Username:     normalizeUsername(name),
		DisplayName:  strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Seed provisions the admin and the configured team members. Existing
// entries are left untouched so passwords changed later survive restarts.
func (s *Service) Seed(ctx context.Context, adminName, adminPassword string, members []string, memberPassword string) error {
	type entry struct{ name, password, role string }
	entries := []entry{{adminName, adminPassword, RoleAdmin}}
	for _, m := range members {
		entries = append(entries, entry{m, memberPassword, RoleMember})
	}
	for _, e := range entries {
		if _, err := s.Repo.FindUserByUsername(ctx, normalizeUsername(e.name)); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := s.createUser(ctx, e.name, e.password, e.role); err != nil && !errors.Is(err, ErrDuplicateUser) {
			return err
		}
	}
	return nil
}

// Login matches name case-insensitively against the roster.
func (s *Service) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	uname := normalizeUsername(username)
	if uname == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByUsername(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResponse{}, ErrRefreshTokenMissing
	}

	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, session.TokenID); err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.FindUserByID(ctx, session.UserID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrRefreshTokenMissing
	}
	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Repo.RevokeRefreshToken(ctx, session.TokenID)
}

// CurrentUser resolves an access token into its session claims.
func (s *Service) CurrentUser(accessToken string) (auth.Claims, error) {
	return s.AuthToken.Parse(strings.TrimSpace(accessToken))
}

// AddMember registers a new team member. Only admins may call it.
func (s *Service) AddMember(ctx context.Context, actor auth.Claims, name, password string) (Member, error) {
	if !actor.IsAdmin() {
		return Member{}, ErrForbiddenRole
	}
	u, err := s.createUser(ctx, name, password, RoleMember)
	if err != nil {
		return Member{}, err
	}
	return Member{ID: u.ID, Name: u.DisplayName, Role: u.Role}, nil
}

func (s *Service) Members(ctx context.Context) ([]Member, error) {
	users, err := s.Repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(users))
	for _, u := range users {
		out = append(out, Member{ID: u.ID, Name: u.DisplayName, Role: u.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Roster returns the sorted team member names. It is the candidate pool for
// color assignment, so admins are excluded.
func (s *Service) Roster(ctx context.Context) ([]string, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Role == RoleMember {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// PruneRefreshTokens removes expired and revoked refresh tokens.
func (s *Service) PruneRefreshTokens(ctx context.Context) (int64, error) {
	return s.Repo.DeleteStaleRefreshTokens(ctx, s.Now())
}

func (s *Service) issueSession(ctx context.Context, user User) (AuthResponse, error) {
	accessToken, err := s.AuthToken.Sign(user.ID, user.DisplayName, user.Role)
	if err != nil {
		return AuthResponse{}, err
	}

	refreshToken := s.NewID() + "." + s.NewID()
	session := RefreshToken{
		TokenID:   s.NewID(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
	if err := s.Repo.CreateRefreshToken(ctx, session); err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		Token:        accessToken,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.DisplayName,
		Role:         user.Role,
		IsAdmin:      user.Role == RoleAdmin,
	}, nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func NewTokenManager(secret string, ttl time.Duration) auth.Manager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return auth.NewManager(secret, ttl)
}
