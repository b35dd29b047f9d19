package services

import (
	"sync"

	"github.com/luminnus/lia-backend/internal/models"
)

// LiveState holds ephemeral per-conversation session data (currently the
// user's live location) for the duration of the process. It is written by the
// live-session path and read by the context assembler; entries disappear when
// the session ends or the process restarts. Mongo keeps the durable record.
type LiveState struct {
	mu        sync.RWMutex
	locations map[string]*models.LiveLocation // keyed by conversation id
}

func NewLiveState() *LiveState {
	return &LiveState{locations: make(map[string]*models.LiveLocation)}
}

func (s *LiveState) SetLocation(conversationID string, loc *models.LiveLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc == nil {
		delete(s.locations, conversationID)
		return
	}
	s.locations[conversationID] = loc
}

func (s *LiveState) Location(conversationID string) *models.LiveLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locations[conversationID]
}

func (s *LiveState) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locations, conversationID)
}
