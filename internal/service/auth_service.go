package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/worklog-auth/internal/models"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
	"github.com/noah-isme/worklog-auth/pkg/secret"
)

// LogoutSentinel is written to the token header and cookie on logout. It is
// never accepted as a token.
const LogoutSentinel = "logout"

type authUserRepository interface {
	FindCredential(ctx context.Context, q models.CredentialQuery) (*models.UserCredential, error)
}

type identityLookup interface {
	Lookup(ctx context.Context, userID int64) (*models.UserIdentity, error)
	Forget(ctx context.Context, userID int64)
}

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindValid(ctx context.Context, id, userID int64, now time.Time) (*models.Session, error)
	Delete(ctx context.Context, id int64) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type secretHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Compare(ctx context.Context, hashed, plain string) (bool, error)
}

type apiKeyChecker interface {
	Check(ctx context.Context, key string) (*models.Identity, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	// SessionMaxAge of zero means sessions never expire.
	SessionMaxAge    time.Duration
	UseCookies       bool
	CooldownEnabled  bool
	CooldownSchedule []time.Duration
	ThrottleIdle     time.Duration
}

// AuthDependencies groups the collaborators of an AuthService.
type AuthDependencies struct {
	Users      authUserRepository
	Identities identityLookup
	Sessions   sessionStore
	Hasher     secretHasher
	Ring       *SecretRing
	Registry   *TokenRegistry
	Roles      *RoleCache
	Throttle   *CooldownThrottle
	Locks      *KeyLock
	APIKeys    apiKeyChecker
	Validator  *validator.Validate
	Logger     *zap.Logger
	Metrics    *MetricsService
	Now        Clock
}

// AuthResult is the outcome of a login or of authenticating a request. Token
// is set when a new access token was issued and must be returned to the client.
type AuthResult struct {
	Identity *models.Identity
	Token    *models.IssuedToken
}

// RequestCredentials are the raw credentials found on a request.
type RequestCredentials struct {
	APIKey        string
	Authorization string
	Cookie        string
}

// AuthService provides login, logout and request authentication.
type AuthService struct {
	users      authUserRepository
	identities identityLookup
	sessions   sessionStore
	hasher     secretHasher
	ring       *SecretRing
	registry   *TokenRegistry
	roles      *RoleCache
	throttle   *CooldownThrottle
	locks      *KeyLock
	apiKeys    apiKeyChecker
	validator  *validator.Validate
	logger     *zap.Logger
	metrics    *MetricsService
	now        Clock
	config     AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies, config AuthConfig) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	now := deps.Now.orSystem()
	if deps.Throttle == nil {
		deps.Throttle = NewCooldownThrottle(now)
	}
	if deps.Locks == nil {
		deps.Locks = NewKeyLock()
	}
	if config.ThrottleIdle <= 0 {
		config.ThrottleIdle = 48 * time.Hour
	}
	return &AuthService{
		users:      deps.Users,
		identities: deps.Identities,
		sessions:   deps.Sessions,
		hasher:     deps.Hasher,
		ring:       deps.Ring,
		registry:   deps.Registry,
		roles:      deps.Roles,
		throttle:   deps.Throttle,
		locks:      deps.Locks,
		apiKeys:    deps.APIKeys,
		validator:  deps.Validator,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        now,
		config:     config,
	}
}

// CookiesEnabled reports whether tokens also travel in the token cookie.
func (s *AuthService) CookiesEnabled() bool {
	return s.config.UseCookies
}

// TokenMaxAge is the lifetime of issued access tokens.
func (s *AuthService) TokenMaxAge() time.Duration {
	return s.ring.MaxAge()
}

// sessionKeySize yields 72-character session keys, the most bcrypt reads.
const sessionKeySize = 18

func ipThrottleKey(ip string) string {
	return "login_throttle_ip_" + ip
}

func userThrottleKey(userID int64) string {
	return fmt.Sprintf("login_throttle_user_%d", userID)
}

// LoginWithPassword checks the email and password of req and opens a session.
func (s *AuthService) LoginWithPassword(ctx context.Context, req models.LoginRequest) (*AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	cred, err := s.CheckCredentials(ctx, models.CredentialQuery{Email: req.Email}, req.Password, req.IP)
	if err != nil {
		s.metrics.RecordLogin(outcomeLabel(err))
		return nil, err
	}

	result, err := s.Login(ctx, cred.ID)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, err
	}
	s.metrics.RecordLogin("success")
	s.logger.Info("user logged in", zap.Int64("user_id", cred.ID), zap.Int64("session_id", result.Identity.SessionID))
	return result, nil
}

// CheckCredentials verifies password for the user selected by q. Attempts are
// throttled per client IP and per user. Unknown users and wrong passwords
// yield the same error.
func (s *AuthService) CheckCredentials(ctx context.Context, q models.CredentialQuery, password, ip string) (*models.UserCredential, error) {
	var resetKeys []string
	if ip != "" {
		key := ipThrottleKey(ip)
		if err := s.attempt(key, "another login from this address is in progress"); err != nil {
			return nil, err
		}
		resetKeys = append(resetKeys, key)
	}

	cred, err := s.users.FindCredential(ctx, q)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	userKey := userThrottleKey(cred.ID)
	if err := s.attempt(userKey, "another login for this user is in progress"); err != nil {
		return nil, err
	}
	resetKeys = append(resetKeys, userKey)

	if !cred.PasswordHash.Valid || cred.PasswordHash.String == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	ok, err := s.hasher.Compare(ctx, cred.PasswordHash.String, password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify password")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	s.throttle.Reset(resetKeys...)
	return cred, nil
}

// attempt runs one throttled check for key. A concurrent check on the same key
// is rejected instead of queued.
func (s *AuthService) attempt(key, parallelMessage string) error {
	release, ok := s.locks.TryLock(key)
	if !ok {
		return appErrors.Clone(appErrors.ErrParallelAttempt, parallelMessage)
	}
	defer release()

	if !s.config.CooldownEnabled {
		return nil
	}
	return s.throttle.Attempt([]string{key}, s.config.CooldownSchedule)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrTokenInvalidated):
		return "invalidated"
	case errors.Is(err, appErrors.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, appErrors.ErrSessionKeyMismatch):
		return "key_mismatch"
	case errors.Is(err, appErrors.ErrCooldownActive):
		return "cooldown"
	case errors.Is(err, appErrors.ErrParallelAttempt):
		return "parallel"
	case errors.Is(err, appErrors.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, appErrors.ErrInvalidAPIKey):
		return "invalid"
	default:
		return "error"
	}
}

// Login opens a new session for userID and issues its first access token.
// The caller is expected to have checked credentials.
func (s *AuthService) Login(ctx context.Context, userID int64) (*AuthResult, error) {
	now := s.now()
	if removed, err := s.sessions.DeleteExpired(ctx, now); err != nil {
		s.logger.Warn("failed to purge expired sessions", zap.Error(err))
	} else if removed > 0 {
		s.logger.Debug("purged expired sessions", zap.Int64("count", removed))
	}

	key, err := secret.Generate(sessionKeySize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session key")
	}
	hashed, err := s.hasher.Hash(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash session key")
	}

	session := &models.Session{Key: hashed, UserID: userID, CreatedAt: now, UpdatedAt: now}
	if s.config.SessionMaxAge > 0 {
		expiresAt := now.Add(s.config.SessionMaxAge)
		session.ExpiresAt = &expiresAt
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	return s.issue(ctx, session.ID, userID, key)
}

// issue signs a token for the session with fresh role and verification data.
func (s *AuthService) issue(ctx context.Context, sessionID, userID int64, sessionKey string) (*AuthResult, error) {
	user, err := s.identities.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	claims := &models.AccessClaims{
		Type:          models.TokenTypeAccess,
		SessionID:     sessionID,
		SessionKey:    sessionKey,
		UserID:        userID,
		RoleIDs:       user.RoleIDs,
		EmailVerified: user.EmailVerifiedAt != nil,
		CreatedAt:     s.now().UnixMilli(),
	}
	token, err := s.ring.Sign(claims)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	return &AuthResult{
		Identity: s.identityFromClaims(ctx, claims),
		Token:    &models.IssuedToken{Token: token, Claims: claims},
	}, nil
}

func (s *AuthService) identityFromClaims(ctx context.Context, claims *models.AccessClaims) *models.Identity {
	return &models.Identity{
		UserID:        claims.UserID,
		SessionID:     claims.SessionID,
		Roles:         s.roles.Resolve(ctx, claims.RoleIDs),
		RoleIDs:       claims.RoleIDs,
		EmailVerified: claims.EmailVerified,
		Credential:    models.CredentialSession,
	}
}

// Logout ends sessions. With a target user every session of that user is
// deleted. Without a target, or when the target is the caller, the caller's
// own session ends too and clearCaller is true so the transport can clear
// the client's token.
func (s *AuthService) Logout(ctx context.Context, caller *models.Identity, target *int64) (clearCaller bool, err error) {
	if target != nil {
		s.registry.InvalidateUser(*target)
		removed, err := s.sessions.DeleteByUser(ctx, *target)
		if err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete sessions")
		}
		s.identities.Forget(ctx, *target)
		s.logger.Info("user sessions ended", zap.Int64("user_id", *target), zap.Int64("sessions", removed))
	}

	if target != nil && (caller == nil || *target != caller.UserID) {
		return false, nil
	}

	if caller != nil && caller.SessionID > 0 {
		s.registry.InvalidateSession(caller.SessionID)
		if err := s.sessions.Delete(ctx, caller.SessionID); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
		}
	}
	return true, nil
}

// ValidateToken checks an access token. Tokens that verify and are not
// invalidated pass without touching storage. Tokens that expired or were
// signed with a retired secret are refreshed against their session; the
// result then carries the replacement token.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*AuthResult, error) {
	claims, err := decodeClaims(token)
	if err != nil {
		s.metrics.RecordTokenValidation("decode", "malformed")
		return nil, appErrors.Wrap(err, appErrors.ErrMalformedToken.Code, appErrors.ErrMalformedToken.Status, appErrors.ErrMalformedToken.Message)
	}
	if claims.Type != models.TokenTypeAccess {
		s.metrics.RecordTokenValidation("decode", "malformed")
		return nil, appErrors.Clone(appErrors.ErrMalformedToken, "not an access token")
	}
	if claims.CreatedAt > s.now().UnixMilli() {
		s.metrics.RecordTokenValidation("decode", "malformed")
		return nil, appErrors.Clone(appErrors.ErrMalformedToken, "token created in the future")
	}

	verified, err := s.ring.Verify(token)
	if err == nil {
		if !s.registry.IsValid(verified) {
			s.metrics.RecordTokenValidation("fast", "invalidated")
			return nil, appErrors.ErrTokenInvalidated
		}
		s.metrics.RecordTokenValidation("fast", "success")
		return &AuthResult{Identity: s.identityFromClaims(ctx, verified)}, nil
	}
	if !errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		s.metrics.RecordTokenValidation("fast", "malformed")
		return nil, appErrors.Wrap(err, appErrors.ErrMalformedToken.Code, appErrors.ErrMalformedToken.Status, appErrors.ErrMalformedToken.Message)
	}

	result, err := s.refresh(ctx, claims)
	if err != nil {
		s.metrics.RecordTokenValidation("slow", outcomeLabel(err))
		return nil, err
	}
	s.metrics.RecordTokenValidation("slow", "refreshed")
	return result, nil
}

func (s *AuthService) refresh(ctx context.Context, claims *models.AccessClaims) (*AuthResult, error) {
	if !s.registry.IsValid(claims) {
		return nil, appErrors.ErrTokenInvalidated
	}

	session, err := s.sessions.FindValid(ctx, claims.SessionID, claims.UserID, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	ok, err := s.hasher.Compare(ctx, session.Key, claims.SessionKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify session key")
	}
	if !ok {
		return nil, appErrors.ErrSessionKeyMismatch
	}

	return s.issue(ctx, session.ID, session.UserID, claims.SessionKey)
}

// decodeClaims reads the payload without checking the signature. Only
// HS256 tokens are accepted.
func decodeClaims(token string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}
	if parsed.Method == nil || parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method %v", parsed.Header["alg"])
	}
	if claims.SessionID <= 0 || claims.UserID <= 0 {
		return nil, errors.New("token is missing session or user")
	}
	return claims, nil
}

// Authenticate resolves the identity behind a request. An API key wins over
// a bearer token, which wins over the cookie. A nil result without error
// means the request is anonymous.
func (s *AuthService) Authenticate(ctx context.Context, creds RequestCredentials) (*AuthResult, error) {
	if creds.APIKey != "" {
		if s.apiKeys == nil {
			return nil, appErrors.ErrInvalidAPIKey
		}
		identity, err := s.apiKeys.Check(ctx, creds.APIKey)
		if err != nil {
			return nil, err
		}
		return &AuthResult{Identity: identity}, nil
	}

	token := bearerToken(creds.Authorization)
	if token == "" && s.config.UseCookies {
		token = creds.Cookie
	}
	if token == "" || token == LogoutSentinel {
		return nil, nil
	}
	return s.ValidateToken(ctx, token)
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) error {
	removed, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info("purged expired sessions", zap.Int64("count", removed))
	}
	return nil
}

// SweepThrottle forgets throttle keys idle for longer than the configured
// window.
func (s *AuthService) SweepThrottle(context.Context) error {
	if removed := s.throttle.Sweep(s.config.ThrottleIdle); removed > 0 {
		s.logger.Debug("swept login throttle", zap.Int("keys", removed))
	}
	return nil
}

// RotateSecrets rotates the signing ring ahead of demand.
func (s *AuthService) RotateSecrets(context.Context) error {
	return s.ring.Rotate()
}
