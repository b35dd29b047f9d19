package services

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luminnus/lia-backend/internal/cache"
	"github.com/luminnus/lia-backend/internal/models"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
)

// metadataResourceField is where the durable mirror lives inside
// conversations.metadata.
const metadataResourceField = "resourceContext"

const (
	resourceCacheTTL     = 30 * time.Minute
	resourceMirrorBudget = 5 * time.Second
	resourceReadBudget   = 3 * time.Second
)

var sheetURLRe = regexp.MustCompile(`docs\.google\.com/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// ResourceService tracks what artifact the assistant is currently operating on
// per conversation, so "add a row to that" resolves without re-asking.
//
// Writes hit the injected cache synchronously first; the durable mirror into
// conversation metadata happens asynchronously and its failure is logged, not
// surfaced. Pointers are last-write-wins by design.
type ResourceService interface {
	SetActiveSpreadsheet(ctx context.Context, conversationID, userID string, sheet models.ActiveSpreadsheet) *models.ResourceContext
	SetActiveDocument(ctx context.Context, conversationID, userID string, doc models.ActiveDocument) *models.ResourceContext
	GetActiveSpreadsheet(ctx context.Context, conversationID string) *models.ActiveSpreadsheet
	GetActiveDocument(ctx context.Context, conversationID string) *models.ActiveDocument
	GetContext(ctx context.Context, conversationID string) *models.ResourceContext
	ExtractSpreadsheetIDFromHistory(messages []models.Message) string
	ClearContext(ctx context.Context, conversationID string)
	// WaitMirrors blocks until in-flight durable mirrors finish. Used on
	// shutdown and in tests.
	WaitMirrors()
}

type resourceService struct {
	cache cache.Cache
	convs pgrepo.ConversationRepo
	log   *logrus.Logger

	mirrors sync.WaitGroup // in-flight durable mirrors, awaited in tests and on shutdown

	mirrorMu    sync.Mutex
	mirrorLocks map[string]*sync.Mutex // serializes mirrors per conversation
}

func NewResourceService(c cache.Cache, convs pgrepo.ConversationRepo, log *logrus.Logger) ResourceService {
	return &resourceService{cache: c, convs: convs, log: log, mirrorLocks: map[string]*sync.Mutex{}}
}

func resourceCacheKey(conversationID string) string {
	return "resctx:" + conversationID
}

func (s *resourceService) SetActiveSpreadsheet(ctx context.Context, conversationID, userID string, sheet models.ActiveSpreadsheet) *models.ResourceContext {
	rc := s.getOrNew(ctx, conversationID, userID)
	rc.ActiveSpreadsheet = &sheet
	rc.LastOperation = &models.ResourceOperation{
		Type:       "set_spreadsheet",
		ResourceID: sheet.ID,
		Status:     "success",
		Timestamp:  time.Now().UTC(),
	}
	s.store(ctx, rc)
	return rc
}

func (s *resourceService) SetActiveDocument(ctx context.Context, conversationID, userID string, doc models.ActiveDocument) *models.ResourceContext {
	rc := s.getOrNew(ctx, conversationID, userID)
	rc.ActiveDocument = &doc
	rc.LastOperation = &models.ResourceOperation{
		Type:       "set_document",
		ResourceID: doc.ID,
		Status:     "success",
		Timestamp:  time.Now().UTC(),
	}
	s.store(ctx, rc)
	return rc
}

func (s *resourceService) GetActiveSpreadsheet(ctx context.Context, conversationID string) *models.ActiveSpreadsheet {
	if rc := s.GetContext(ctx, conversationID); rc != nil {
		return rc.ActiveSpreadsheet
	}
	return nil
}

func (s *resourceService) GetActiveDocument(ctx context.Context, conversationID string) *models.ActiveDocument {
	if rc := s.GetContext(ctx, conversationID); rc != nil {
		return rc.ActiveDocument
	}
	return nil
}

// GetContext is the shared read path: cache first, then the durable mirror.
// A durable hit repopulates the cache; a durable miss does not. Absence is a
// normal outcome, not an error.
func (s *resourceService) GetContext(ctx context.Context, conversationID string) *models.ResourceContext {
	const op = "ResourceService.GetContext"

	var cached models.ResourceContext
	hit, err := s.cache.GetJSON(ctx, resourceCacheKey(conversationID), &cached)
	if err != nil {
		s.log.WithField("op", op).WithError(err).Warn("resource cache read failed")
	}
	if hit {
		return &cached
	}

	rc := s.loadDurable(ctx, conversationID)
	if rc == nil {
		return nil
	}

	if err := s.cache.SetJSON(ctx, resourceCacheKey(conversationID), rc, resourceCacheTTL); err != nil {
		s.log.WithField("op", op).WithError(err).Warn("resource cache repopulate failed")
	}
	return rc
}

// ExtractSpreadsheetIDFromHistory is the last-resort recovery path: scan
// message content backward for a Sheets URL when the structured store has
// nothing.
func (s *resourceService) ExtractSpreadsheetIDFromHistory(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if m := sheetURLRe.FindStringSubmatch(messages[i].Content); m != nil {
			return m[1]
		}
	}
	return ""
}

// ClearContext drops the cache entry only. The durable copy is kept so "what
// was active" stays debuggable after the working session moves on.
func (s *resourceService) ClearContext(ctx context.Context, conversationID string) {
	if err := s.cache.Del(ctx, resourceCacheKey(conversationID)); err != nil {
		s.log.WithField("op", "ResourceService.ClearContext").WithError(err).Warn("resource cache clear failed")
	}
}

func (s *resourceService) WaitMirrors() { s.mirrors.Wait() }

func (s *resourceService) getOrNew(ctx context.Context, conversationID, userID string) *models.ResourceContext {
	if rc := s.GetContext(ctx, conversationID); rc != nil {
		return rc
	}
	return &models.ResourceContext{
		ConversationID: conversationID,
		UserID:         userID,
	}
}

// store writes the cache synchronously so in-process readers see the pointer
// immediately, then mirrors to the conversation row in the background.
func (s *resourceService) store(ctx context.Context, rc *models.ResourceContext) {
	const op = "ResourceService.store"

	rc.UpdatedAt = time.Now().UTC()

	if err := s.cache.SetJSON(ctx, resourceCacheKey(rc.ConversationID), rc, resourceCacheTTL); err != nil {
		s.log.WithFields(logrus.Fields{"op": op, "conversation_id": rc.ConversationID}).
			WithError(err).Warn("resource cache write failed")
	}

	s.mirrors.Add(1)
	go func(rc models.ResourceContext) {
		defer s.mirrors.Done()
		mu := s.mirrorLockFor(rc.ConversationID)
		mu.Lock()
		defer mu.Unlock()
		mctx, cancel := context.WithTimeout(context.Background(), resourceMirrorBudget)
		defer cancel()
		if err := s.mirrorDurable(mctx, &rc); err != nil {
			s.log.WithFields(logrus.Fields{"op": op, "conversation_id": rc.ConversationID}).
				WithError(err).Warn("resource durable mirror failed")
		}
	}(*rc)
}

func (s *resourceService) mirrorLockFor(conversationID string) *sync.Mutex {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	mu, ok := s.mirrorLocks[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		s.mirrorLocks[conversationID] = mu
	}
	return mu
}

func (s *resourceService) mirrorDurable(ctx context.Context, rc *models.ResourceContext) error {
	conv, err := s.convs.GetByID(ctx, rc.ConversationID)
	if err != nil {
		return err
	}

	meta := map[string]json.RawMessage{}
	if len(conv.Metadata) > 0 {
		// Corrupt metadata is replaced rather than propagated.
		_ = json.Unmarshal(conv.Metadata, &meta)
	}

	// A mirror that lost the scheduling race must not clobber a newer snapshot.
	if existing, ok := meta[metadataResourceField]; ok {
		var cur models.ResourceContext
		if json.Unmarshal(existing, &cur) == nil && cur.UpdatedAt.After(rc.UpdatedAt) {
			return nil
		}
	}

	raw, err := json.Marshal(rc)
	if err != nil {
		return err
	}
	meta[metadataResourceField] = raw

	merged, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.convs.UpdateMetadata(ctx, rc.ConversationID, merged)
}

func (s *resourceService) loadDurable(ctx context.Context, conversationID string) *models.ResourceContext {
	rctx, cancel := context.WithTimeout(ctx, resourceReadBudget)
	defer cancel()

	conv, err := s.convs.GetByID(rctx, conversationID)
	if err != nil || len(conv.Metadata) == 0 {
		return nil
	}

	meta := map[string]json.RawMessage{}
	if err := json.Unmarshal(conv.Metadata, &meta); err != nil {
		return nil
	}
	raw, ok := meta[metadataResourceField]
	if !ok {
		return nil
	}

	var rc models.ResourceContext
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil
	}
	return &rc
}
