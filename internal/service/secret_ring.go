package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/pkg/secret"
)

// ErrNoSigningSecret is returned when the ring holds no secret at all.
var ErrNoSigningSecret = errors.New("no signing secret available")

type rollingSecret struct {
	value     []byte
	createdAt time.Time
}

// SecretRingConfig tunes a SecretRing.
type SecretRingConfig struct {
	// Rotation is how long the newest secret keeps signing.
	Rotation time.Duration
	// MaxAge is the access token lifetime.
	MaxAge  time.Duration
	Now     Clock
	Logger  *zap.Logger
	Metrics *MetricsService
}

// SecretRing signs access tokens with the newest secret and verifies them
// against every secret still inside its grace window. A secret signs while
// younger than Rotation and verifies while younger than Rotation + 2*MaxAge,
// so a token issued just before rotation stays verifiable for its whole life.
type SecretRing struct {
	cfg      SecretRingConfig
	now      Clock
	logger   *zap.Logger
	generate func() (string, error)

	mu      sync.Mutex
	secrets []rollingSecret
}

// NewSecretRing constructs an empty ring. Call Init before first use.
func NewSecretRing(cfg SecretRingConfig) *SecretRing {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rotation <= 0 {
		cfg.Rotation = 24 * time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	return &SecretRing{
		cfg:    cfg,
		now:    cfg.Now.orSystem(),
		logger: cfg.Logger,
		generate: func() (string, error) {
			return secret.Generate(secret.DefaultSize)
		},
	}
}

// Init ensures a signing secret exists. A failure here should stop startup.
func (r *SecretRing) Init() error {
	return r.Rotate()
}

// MaxAge returns the access token lifetime.
func (r *SecretRing) MaxAge() time.Duration {
	return r.cfg.MaxAge
}

// Size returns the number of secrets accepted for verification.
func (r *SecretRing) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.secrets)
}

// Rotate drops secrets past their grace window and prepends a fresh secret
// when the newest one no longer signs.
func (r *SecretRing) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.rotateLocked()
	return err
}

func (r *SecretRing) rotateLocked() ([]byte, error) {
	now := r.now()
	graceWindow := r.cfg.Rotation + 2*r.cfg.MaxAge

	kept := r.secrets[:0]
	for _, s := range r.secrets {
		if now.Sub(s.createdAt) < graceWindow {
			kept = append(kept, s)
		}
	}
	r.secrets = kept

	if len(r.secrets) > 0 && now.Sub(r.secrets[0].createdAt) < r.cfg.Rotation {
		return r.secrets[0].value, nil
	}

	value, err := r.generate()
	if err != nil {
		r.cfg.Metrics.RecordRotation(false, len(r.secrets))
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	r.secrets = append([]rollingSecret{{value: []byte(value), createdAt: now}}, r.secrets...)
	r.cfg.Metrics.RecordRotation(true, len(r.secrets))
	r.logger.Info("signing secret rotated", zap.Int("active_secrets", len(r.secrets)))
	return r.secrets[0].value, nil
}

// Sign stamps the expiry and issue time on claims and signs them with the
// current main secret.
func (r *SecretRing) Sign(claims *models.AccessClaims) (string, error) {
	r.mu.Lock()
	key, err := r.rotateLocked()
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	now := r.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(r.cfg.MaxAge))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks token against every active secret. When no secret accepts it
// the returned error wraps jwt.ErrTokenExpired if some secret matched the
// signature, otherwise jwt.ErrTokenSignatureInvalid when applicable.
func (r *SecretRing) Verify(token string) (*models.AccessClaims, error) {
	r.mu.Lock()
	if _, err := r.rotateLocked(); err != nil {
		r.logger.Warn("secret rotation failed during verify", zap.Error(err))
	}
	secrets := make([]rollingSecret, len(r.secrets))
	copy(secrets, r.secrets)
	r.mu.Unlock()

	if len(secrets) == 0 {
		return nil, ErrNoSigningSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	)

	var firstErr, signatureErr error
	for _, s := range secrets {
		key := s.value
		claims := &models.AccessClaims{}
		_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, err
		}
		if signatureErr == nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			signatureErr = err
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if signatureErr != nil {
		return nil, signatureErr
	}
	return nil, firstErr
}
