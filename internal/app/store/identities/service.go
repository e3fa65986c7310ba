// Package identities is the identity provider the desk signs in against.
//
// Service is shared by the whole process. It verifies credentials, issues
// opaque tokens and keeps their server-side records in auth_tokens. Only
// the SHA-256 hash of a token is stored, so a database read never yields
// a usable token. Client adapts the service to one desk client.
package identities

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	userstore "github.com/dalemusser/opsdesk/internal/app/store/users"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/gorilla/securecookie"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is used when the service is built with a zero TTL.
const DefaultTokenTTL = 12 * time.Hour

var (
	errBadCredentials = errors.New("invalid email or password")
	errDisabled       = errors.New("account disabled")
	errTokenInvalid   = errors.New("token is invalid, expired or revoked")
	errNoGoogle       = errors.New("google sign-in is not configured")
)

// Grant is the result of a successful sign-in or refresh.
type Grant struct {
	Identity  session.Identity
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Exchanger turns an OAuth authorization code into a verified email.
type Exchanger interface {
	ExchangeEmail(ctx context.Context, code string) (string, error)
}

// Service issues and checks tokens.
type Service struct {
	users  *userstore.Store
	tokens *mongo.Collection
	ttl    time.Duration
	google Exchanger
	log    *zap.Logger
	now    func() time.Time
}

// NewService builds the provider. google may be nil when Google sign-in
// is not configured.
func NewService(db *mongo.Database, ttl time.Duration, google Exchanger, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  userstore.New(db),
		tokens: db.Collection("auth_tokens"),
		ttl:    ttl,
		google: google,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GoogleEnabled reports whether OAuth codes are accepted.
func (s *Service) GoogleEnabled() bool { return s.google != nil }

// HashPassword returns the bcrypt hash stored for a password user.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func hashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	raw := securecookie.GenerateRandomKey(32)
	if raw == nil {
		return "", errors.New("generate token: no randomness available")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func identityOf(u *models.User) session.Identity {
	return session.Identity{ID: u.ID.Hex(), Email: u.Email}
}

// Authenticate verifies creds and issues a token. Rejected credentials
// and disabled accounts are *apperr.AuthError; store failures are
// returned as they are.
func (s *Service) Authenticate(ctx context.Context, creds session.Credentials) (Grant, error) {
	var u *models.User
	var err error
	if creds.OAuthCode != "" {
		u, err = s.authenticateGoogle(ctx, creds.OAuthCode)
	} else {
		u, err = s.authenticatePassword(ctx, creds.Email, creds.Password)
	}
	if err != nil {
		return Grant{}, err
	}
	if u.Status == models.UserStatusDisabled {
		s.log.Info("sign-in rejected: account disabled", zap.String("user_id", u.ID.Hex()))
		return Grant{}, apperr.Auth(errDisabled.Error(), nil)
	}
	return s.issue(ctx, u)
}

func (s *Service) authenticatePassword(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Auth(errBadCredentials.Error(), nil)
	}
	if err != nil {
		return nil, err
	}
	if u.AuthMethod != models.AuthMethodPassword || u.PasswordHash == "" {
		return nil, apperr.Auth(errBadCredentials.Error(), nil)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Auth(errBadCredentials.Error(), nil)
	}
	return u, nil
}

func (s *Service) authenticateGoogle(ctx context.Context, code string) (*models.User, error) {
	if s.google == nil {
		return nil, apperr.Auth(errNoGoogle.Error(), nil)
	}
	email, err := s.google.ExchangeEmail(ctx, code)
	if err != nil {
		return nil, apperr.Auth("google sign-in failed", err)
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.log.Info("google sign-in: no account", zap.String("email", email))
		return nil, apperr.Auth("no account for "+email, nil)
	}
	if err != nil {
		return nil, err
	}
	if u.AuthMethod != models.AuthMethodGoogle {
		return nil, apperr.Auth("account does not use google sign-in", nil)
	}
	return u, nil
}

func (s *Service) issue(ctx context.Context, u *models.User) (Grant, error) {
	tok, err := newToken()
	if err != nil {
		return Grant{}, err
	}
	now := s.now()
	rec := models.AuthToken{
		UserID:    u.ID,
		TokenHash: hashToken(tok),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if _, err := s.tokens.InsertOne(ctx, rec); err != nil {
		return Grant{}, err
	}
	s.log.Info("token issued", zap.String("user_id", u.ID.Hex()))
	return Grant{Identity: identityOf(u), Token: tok, IssuedAt: now, ExpiresAt: rec.ExpiresAt}, nil
}

// lookup loads the live record for tok and its active user.
func (s *Service) lookup(ctx context.Context, tok string) (models.AuthToken, *models.User, error) {
	var rec models.AuthToken
	if tok == "" {
		return rec, nil, apperr.Auth(errTokenInvalid.Error(), nil)
	}
	err := s.tokens.FindOne(ctx, bson.M{
		"token_hash": hashToken(tok),
		"revoked_at": bson.M{"$exists": false},
		"expires_at": bson.M{"$gt": s.now()},
	}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, nil, apperr.Auth(errTokenInvalid.Error(), nil)
	}
	if err != nil {
		return rec, nil, err
	}
	u, err := s.users.GetByID(ctx, rec.UserID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, nil, apperr.Auth("user no longer exists", nil)
	}
	if err != nil {
		return rec, nil, err
	}
	if u.Status == models.UserStatusDisabled {
		return rec, nil, apperr.Auth(errDisabled.Error(), nil)
	}
	return rec, u, nil
}

// Verify returns the grant tok currently represents.
func (s *Service) Verify(ctx context.Context, tok string) (Grant, error) {
	rec, u, err := s.lookup(ctx, tok)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Identity: identityOf(u), Token: tok, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}, nil
}

// Refresh extends the expiry of tok by the token TTL.
func (s *Service) Refresh(ctx context.Context, tok string) (Grant, error) {
	rec, u, err := s.lookup(ctx, tok)
	if err != nil {
		return Grant{}, err
	}
	exp := s.now().Add(s.ttl)
	if _, err := s.tokens.UpdateOne(ctx, bson.M{"_id": rec.ID}, bson.M{"$set": bson.M{"expires_at": exp}}); err != nil {
		return Grant{}, err
	}
	return Grant{Identity: identityOf(u), Token: tok, IssuedAt: rec.IssuedAt, ExpiresAt: exp}, nil
}

// Revoke invalidates tok. Revoking an unknown token succeeds.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	if tok == "" {
		return nil
	}
	_, err := s.tokens.UpdateOne(ctx,
		bson.M{"token_hash": hashToken(tok), "revoked_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revoked_at": s.now()}})
	return err
}

// RevokeAllForUser invalidates every token of userID and returns how
// many were live.
func (s *Service) RevokeAllForUser(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	res, err := s.tokens.UpdateMany(ctx,
		bson.M{"user_id": userID, "revoked_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revoked_at": s.now()}})
	if err != nil {
		return 0, err
	}
	s.log.Info("tokens revoked", zap.String("user_id", userID.Hex()), zap.Int64("count", res.ModifiedCount))
	return res.ModifiedCount, nil
}
