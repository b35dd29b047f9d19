package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/luminnus/lia-backend/internal/identity"
	"github.com/luminnus/lia-backend/internal/models"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
	"github.com/luminnus/lia-backend/internal/utils"
)

type SaveStatus string

const (
	SaveSynced         SaveStatus = "synced"
	SaveSyncedFallback SaveStatus = "synced_fallback"
	SaveCachedLocally  SaveStatus = "cached_locally"
)

type SaveResult struct {
	Status SaveStatus `json:"status"`
	Key    string     `json:"key"`
}

// factTypeByKey classifies known semantic slots. Unknown keys fall through to
// misc.
var factTypeByKey = map[string]models.FactType{
	"nome_usuario":      models.FactIdentity,
	"nome":              models.FactIdentity,
	"email":             models.FactIdentity,
	"telefone":          models.FactIdentity,
	"endereco":          models.FactAddress,
	"cidade":            models.FactAddress,
	"empresa":           models.FactCompany,
	"cnpj":              models.FactCompany,
	"setor":             models.FactCompany,
	"faturamento":       models.FactBusiness,
	"meta_mensal":       models.FactBusiness,
	"preferencia":       models.FactPreference,
	"preferencia_canal": models.FactPreference,
	"familia":           models.FactFamily,
}

// importanceByType is consulted only when the caller flags the fact as
// important; everything else defaults to weight 1.
var importanceByType = map[models.FactType]int{
	models.FactIdentity:   10,
	models.FactCompany:    8,
	models.FactBusiness:   8,
	models.FactAddress:    7,
	models.FactFamily:     6,
	models.FactPreference: 5,
	models.FactMisc:       1,
}

// negativeContentMarkers are boilerplate the model has historically emitted and
// that once leaked into storage as "facts". Matching facts are filtered at read
// time so old rows stay harmless without a data migration.
var negativeContentMarkers = []string{
	"i don't have the ability to remember",
	"i cannot remember",
	"i don't have memory",
	"as an ai",
	"não tenho a capacidade de lembrar",
	"não consigo lembrar",
	"como uma ia",
	"como posso ajudar",
	"how can i help",
}

const (
	memoryWriteTimeout = 5 * time.Second
	memoryReadTimeout  = 3 * time.Second
)

type MemoryService interface {
	// Save never returns an error: on total store failure the fact is parked
	// locally and the caller sees SaveCachedLocally.
	Save(ctx context.Context, userID, key, value string, isImportant bool) SaveResult
	LoadImportant(ctx context.Context, userID string, limit int) []models.MemoryFact
	Correct(ctx context.Context, userID, key, newValue string) error
	Forget(ctx context.Context, userID, key string) error
	Delete(ctx context.Context, userID, key string) error
	// Lookup bypasses the active filter so soft-deleted rows stay auditable.
	Lookup(ctx context.Context, userID, key string) (*models.MemoryFact, error)
	PendingLocal() []models.MemoryFact
}

type memoryService struct {
	repo   pgrepo.MemoryRepo
	policy identity.Policy
	log    *logrus.Logger

	mu      sync.Mutex
	pending []models.MemoryFact
}

func NewMemoryService(repo pgrepo.MemoryRepo, policy identity.Policy, log *logrus.Logger) MemoryService {
	return &memoryService{repo: repo, policy: policy, log: log}
}

func ClassifyKey(key string) models.FactType {
	if t, ok := factTypeByKey[key]; ok {
		return t
	}
	if strings.HasPrefix(key, "preferencia_") {
		return models.FactPreference
	}
	if strings.HasPrefix(key, "familia_") {
		return models.FactFamily
	}
	return models.FactMisc
}

func (s *memoryService) Save(ctx context.Context, userID, key, value string, isImportant bool) SaveResult {
	const op = "MemoryService.Save"

	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	typ := ClassifyKey(key)
	importance := 1
	if isImportant {
		if w, ok := importanceByType[typ]; ok {
			importance = w
		}
	}

	fact := &models.MemoryFact{
		ID:         uuid.NewString(),
		UserID:     userID,
		Key:        key,
		Content:    value,
		Type:       typ,
		Importance: importance,
		Status:     models.MemoryActive,
		UpdatedAt:  time.Now().UTC(),
	}

	wctx, cancel := context.WithTimeout(ctx, memoryWriteTimeout)
	defer cancel()

	err := s.repo.Upsert(wctx, fact)
	if err == nil {
		return SaveResult{Status: SaveSynced, Key: key}
	}

	if isDuplicateKeyErr(err) {
		// Upsert did not resolve the conflict; recover via delete-then-insert.
		if derr := s.repo.DeleteByKey(wctx, userID, key); derr == nil {
			if ierr := s.repo.Insert(wctx, fact); ierr == nil {
				s.log.WithFields(logrus.Fields{"op": op, "user_id": userID, "key": key}).
					Warn("memory upsert conflicted, saved via delete+insert")
				return SaveResult{Status: SaveSyncedFallback, Key: key}
			}
		}
	}

	// Store unreachable: park the fact locally so conversation flow is never
	// blocked by memory persistence.
	s.mu.Lock()
	s.pending = append(s.pending, *fact)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"op": op, "user_id": userID, "key": key}).
		WithError(err).Warn("memory store unavailable, cached locally")
	return SaveResult{Status: SaveCachedLocally, Key: key}
}

func (s *memoryService) LoadImportant(ctx context.Context, userID string, limit int) []models.MemoryFact {
	const op = "MemoryService.LoadImportant"

	if limit <= 0 {
		limit = 15
	}

	rctx, cancel := context.WithTimeout(ctx, memoryReadTimeout)
	defer cancel()

	rows, err := s.repo.ListActive(rctx, userID, limit)
	if err != nil {
		s.log.WithFields(logrus.Fields{"op": op, "user_id": userID}).
			WithError(err).Warn("memory load failed, returning empty")
		return nil
	}

	// Anonymous/dev sessions land on the shared id; retry exactly once.
	if len(rows) == 0 {
		if shared := s.policy.SharedRetryID(userID); shared != "" {
			rows, err = s.repo.ListActive(rctx, shared, limit)
			if err != nil {
				s.log.WithFields(logrus.Fields{"op": op, "user_id": shared}).
					WithError(err).Warn("shared-id memory load failed, returning empty")
				return nil
			}
		}
	}

	return filterFacts(rows)
}

// filterFacts dedups by key (rows arrive newest-first, latest wins) and drops
// negative/boilerplate content.
func filterFacts(rows []models.MemoryFact) []models.MemoryFact {
	seen := make(map[string]bool, len(rows))
	out := make([]models.MemoryFact, 0, len(rows))
	for _, f := range rows {
		if seen[f.Key] {
			continue
		}
		seen[f.Key] = true
		if isNegativeContent(f.Content) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNegativeContent(content string) bool {
	lowered := strings.ToLower(content)
	for _, marker := range negativeContentMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func (s *memoryService) Correct(ctx context.Context, userID, key, newValue string) error {
	const op = "MemoryService.Correct"

	if userID == "" || key == "" || newValue == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id, key, and value are required", nil)
	}

	wctx, cancel := context.WithTimeout(ctx, memoryWriteTimeout)
	defer cancel()

	updated, err := s.repo.UpdateContent(wctx, userID, key, newValue)
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "memory store unavailable", err)
	}
	if !updated {
		return utils.E(utils.CodeNotFound, op, "no active memory for key", nil)
	}
	return nil
}

func (s *memoryService) Forget(ctx context.Context, userID, key string) error {
	const op = "MemoryService.Forget"

	if userID == "" || key == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and key are required", nil)
	}

	wctx, cancel := context.WithTimeout(ctx, memoryWriteTimeout)
	defer cancel()

	if err := s.repo.SetStatus(wctx, userID, key, models.MemoryInactive); err != nil {
		return utils.E(utils.CodeUnavailable, op, "memory store unavailable", err)
	}
	return nil
}

func (s *memoryService) Delete(ctx context.Context, userID, key string) error {
	const op = "MemoryService.Delete"

	if userID == "" || key == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and key are required", nil)
	}

	wctx, cancel := context.WithTimeout(ctx, memoryWriteTimeout)
	defer cancel()

	if err := s.repo.DeleteByKey(wctx, userID, key); err != nil {
		return utils.E(utils.CodeUnavailable, op, "memory store unavailable", err)
	}
	return nil
}

func (s *memoryService) Lookup(ctx context.Context, userID, key string) (*models.MemoryFact, error) {
	const op = "MemoryService.Lookup"

	rctx, cancel := context.WithTimeout(ctx, memoryReadTimeout)
	defer cancel()

	row, err := s.repo.GetByKey(rctx, userID, key)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "memory not found", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "memory store unavailable", err)
	}
	return row, nil
}

func (s *memoryService) PendingLocal() []models.MemoryFact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MemoryFact, len(s.pending))
	copy(out, s.pending)
	return out
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
