package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/worklog-auth/internal/dto"
	"github.com/noah-isme/worklog-auth/internal/models"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
	"github.com/noah-isme/worklog-auth/pkg/jobs"
	"github.com/noah-isme/worklog-auth/pkg/secret"
)

// APIKeySecretSize is the secret size in 3-byte groups.
const APIKeySecretSize = 10

// JobReloadAPIKeys is the job type handled by APIKeyService.HandleJob.
const JobReloadAPIKeys = "api_keys.reload"

type apiKeyRepository interface {
	ListValid(ctx context.Context, now time.Time) ([]models.APIKey, error)
	ListByOwner(ctx context.Context, userID int64) ([]models.APIKey, error)
	CountByName(ctx context.Context, userID int64, name string) (int, error)
	Create(ctx context.Context, key *models.APIKey) error
	FindOwned(ctx context.Context, id, userID int64) (*models.APIKey, error)
	Update(ctx context.Context, key *models.APIKey) error
	SoftDelete(ctx context.Context, id, userID int64, now time.Time) error
	SoftDeleteByName(ctx context.Context, name string, userID int64, now time.Time) error
}

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
}

// APIKeyService validates API keys against an in-memory copy of the usable
// keys and manages keys on behalf of their owners.
type APIKeyService struct {
	repo       apiKeyRepository
	identities identityLookup
	roles      *RoleCache
	hasher     secretHasher
	locks      *KeyLock
	validator  *validator.Validate
	logger     *zap.Logger
	metrics    *MetricsService
	now        Clock

	mu     sync.RWMutex
	keys   map[int64]models.APIKey
	loaded bool
	queue  jobEnqueuer
}

// NewAPIKeyService constructs an APIKeyService.
func NewAPIKeyService(repo apiKeyRepository, identities identityLookup, roles *RoleCache, hasher secretHasher, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, now Clock) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &APIKeyService{
		repo:       repo,
		identities: identities,
		roles:      roles,
		hasher:     hasher,
		locks:      NewKeyLock(),
		validator:  validate,
		logger:     logger,
		metrics:    metrics,
		now:        now.orSystem(),
		keys:       make(map[int64]models.APIKey),
	}
}

// UseQueue routes reloads requested by mutations through queue.
func (s *APIKeyService) UseQueue(queue jobEnqueuer) {
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
}

// Reload replaces the in-memory key set with the currently usable keys.
func (s *APIKeyService) Reload(ctx context.Context) error {
	keys, err := s.repo.ListValid(ctx, s.now())
	if err != nil {
		s.metrics.RecordCacheReload("api_keys", false)
		return err
	}

	next := make(map[int64]models.APIKey, len(keys))
	for _, key := range keys {
		next[key.ID] = key
	}

	s.mu.Lock()
	s.keys = next
	s.loaded = true
	s.mu.Unlock()
	s.metrics.RecordCacheReload("api_keys", true)
	return nil
}

// HandleJob processes queued reload requests.
func (s *APIKeyService) HandleJob(ctx context.Context, job jobs.Job) error {
	if job.Type != JobReloadAPIKeys {
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	return s.Reload(ctx)
}

// requestReload asks for a reload without waiting for it. Before the first
// load there is nothing to refresh.
func (s *APIKeyService) requestReload() {
	s.mu.RLock()
	loaded, queue := s.loaded, s.queue
	s.mu.RUnlock()
	if !loaded || queue == nil {
		return
	}
	if err := queue.TryEnqueue(jobs.Job{Type: JobReloadAPIKeys}); err != nil {
		s.logger.Debug("api key reload not queued", zap.Error(err))
	}
}

// Check authenticates "<id>_<secret>".
func (s *APIKeyService) Check(ctx context.Context, raw string) (*models.Identity, error) {
	identity, err := s.check(ctx, raw)
	if err != nil {
		s.metrics.RecordAPIKeyCheck(outcomeLabel(err))
		return nil, err
	}
	s.metrics.RecordAPIKeyCheck("success")
	return identity, nil
}

func (s *APIKeyService) check(ctx context.Context, raw string) (*models.Identity, error) {
	idPart, secretPart, found := strings.Cut(raw, "_")
	if !found || secretPart == "" {
		return nil, appErrors.ErrInvalidAPIKey
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return nil, appErrors.ErrInvalidAPIKey
	}

	s.mu.RLock()
	key, ok := s.keys[id]
	s.mu.RUnlock()
	if !ok || !key.Usable(s.now()) {
		return nil, appErrors.ErrInvalidAPIKey
	}

	match, err := s.hasher.Compare(ctx, key.KeyHash, secretPart)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify api key")
	}
	if !match {
		return nil, appErrors.ErrInvalidAPIKey
	}

	user, err := s.identities.Lookup(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidAPIKey
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load api key owner")
	}

	return &models.Identity{
		UserID:        key.UserID,
		APIKeyID:      key.ID,
		Roles:         s.roles.Resolve(ctx, user.RoleIDs),
		RoleIDs:       user.RoleIDs,
		EmailVerified: user.EmailVerifiedAt != nil,
		Credential:    models.CredentialAPIKey,
	}, nil
}

// List returns the caller's keys.
func (s *APIKeyService) List(ctx context.Context, userID int64) ([]models.APIKey, error) {
	keys, err := s.repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list api keys")
	}
	return keys, nil
}

// Create issues a key for userID. The plaintext key is only returned here.
func (s *APIKeyService) Create(ctx context.Context, userID int64, req dto.CreateAPIKeyRequest) (*models.CreatedAPIKey, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid api key payload")
	}

	release, err := s.locks.Lock(ctx, fmt.Sprintf("api_key_create:%d", userID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "api key creation cancelled")
	}
	defer release()

	count, err := s.repo.CountByName(ctx, userID, req.Name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check api key name")
	}
	if count > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "an api key with this name already exists")
	}

	plain, err := secret.Generate(APIKeySecretSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate api key")
	}
	hashed, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash api key")
	}

	key := models.APIKey{
		UserID:      userID,
		Enabled:     true,
		ExpiresAt:   req.ExpiresAt,
		Name:        req.Name,
		KeyHash:     hashed,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}
	if err := s.repo.Create(ctx, &key); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create api key")
	}

	s.requestReload()
	s.logger.Info("api key created", zap.Int64("user_id", userID), zap.Int64("api_key_id", key.ID))
	return &models.CreatedAPIKey{APIKey: key, Key: fmt.Sprintf("%d_%s", key.ID, plain)}, nil
}

// Update changes a key owned by userID.
func (s *APIKeyService) Update(ctx context.Context, userID, id int64, req dto.UpdateAPIKeyRequest) (*models.APIKey, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid api key payload")
	}
	if req.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}

	key, err := s.repo.FindOwned(ctx, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "api key not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load api key")
	}

	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}
	if req.ClearExpiresAt {
		key.ExpiresAt = nil
	} else if req.ExpiresAt != nil {
		key.ExpiresAt = req.ExpiresAt
	}
	if req.Description != nil {
		key.Description = req.Description
	}

	if err := s.repo.Update(ctx, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "api key not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update api key")
	}

	s.remember(*key)
	s.requestReload()
	return key, nil
}

// Delete soft-deletes a key owned by userID.
func (s *APIKeyService) Delete(ctx context.Context, userID, id int64) error {
	err := s.repo.SoftDelete(ctx, id, userID, s.now())
	return s.afterDelete(err, func(key models.APIKey) bool {
		return key.ID == id
	})
}

// DeleteByName soft-deletes the key of userID with the given name.
func (s *APIKeyService) DeleteByName(ctx context.Context, userID int64, name string) error {
	if strings.TrimSpace(name) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	err := s.repo.SoftDeleteByName(ctx, name, userID, s.now())
	return s.afterDelete(err, func(key models.APIKey) bool {
		return key.UserID == userID && key.Name == name
	})
}

func (s *APIKeyService) afterDelete(err error, match func(models.APIKey) bool) error {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "api key not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete api key")
	}

	s.mu.Lock()
	for id, key := range s.keys {
		if match(key) {
			delete(s.keys, id)
		}
	}
	s.mu.Unlock()

	s.requestReload()
	return nil
}

// remember applies an updated key to the in-memory set so that disabling a
// key takes effect before the next reload.
func (s *APIKeyService) remember(key models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.Usable(s.now()) {
		s.keys[key.ID] = key
		return
	}
	delete(s.keys, key.ID)
}
