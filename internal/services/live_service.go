package services

import (
	"context"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luminnus/lia-backend/internal/models"
	mongorepo "github.com/luminnus/lia-backend/internal/repositories/mongo"
	"github.com/luminnus/lia-backend/internal/utils"
)

const (
	defaultLiveModel = "gemini-2.0-flash-live-001"
	defaultLiveVoice = "Aoede"
	liveSessionTTL   = 30 * time.Minute
	liveRepoBudget   = 5 * time.Second
)

// LiveSessionConfig is the ephemeral voice-session configuration returned by
// the live-token endpoint. The client hands Token and SystemInstruction to the
// realtime voice API; nothing here is stored client-side beyond the session.
type LiveSessionConfig struct {
	SessionID         string    `json:"session_id"`
	Model             string    `json:"model"`
	Voice             string    `json:"voice"`
	SystemInstruction string    `json:"system_instruction"`
	Token             string    `json:"token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type LiveService interface {
	MintSession(ctx context.Context, conversationID, userID string, loc *models.LiveLocation) (*LiveSessionConfig, error)
	EndSession(ctx context.Context, sessionID string) error
}

type liveService struct {
	sessions mongorepo.LiveSessionRepository
	contexts ContextService
	state    *LiveState
	log      *logrus.Logger

	model  string
	voice  string
	secret []byte
}

func NewLiveService(sessions mongorepo.LiveSessionRepository, contexts ContextService, state *LiveState, log *logrus.Logger) LiveService {
	model := os.Getenv("LIVE_MODEL")
	if model == "" {
		model = defaultLiveModel
	}
	voice := os.Getenv("LIVE_VOICE")
	if voice == "" {
		voice = defaultLiveVoice
	}
	secret := os.Getenv("LIVE_TOKEN_SECRET")
	if secret == "" {
		secret = os.Getenv("SUPABASE_JWT_SECRET")
	}

	return &liveService{
		sessions: sessions,
		contexts: contexts,
		state:    state,
		log:      log,
		model:    model,
		voice:    voice,
		secret:   []byte(secret),
	}
}

func (s *liveService) MintSession(ctx context.Context, conversationID, userID string, loc *models.LiveLocation) (*LiveSessionConfig, error) {
	const op = "LiveService.MintSession"

	if userID == "" {
		return nil, utils.E(utils.CodeUnauthorized, op, "user identity could not be resolved", nil)
	}

	// Remember the location in-process so text turns in the same conversation
	// see it too.
	if loc != nil && conversationID != "" {
		s.state.SetLocation(conversationID, loc)
	}

	pack, err := s.contexts.GetContext(ctx, conversationID, userID, ContextOptions{Location: loc})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to assemble context", err)
	}

	now := time.Now().UTC()
	expires := now.Add(liveSessionTTL)
	sessionID := uuid.NewString()

	token, err := s.signToken(sessionID, conversationID, userID, now, expires)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to sign session token", err)
	}

	// The durable ledger entry is best-effort; an unreachable Mongo must not
	// block voice sessions.
	rctx, cancel := context.WithTimeout(ctx, liveRepoBudget)
	defer cancel()
	record := &models.LiveSession{
		SessionID:      sessionID,
		ConversationID: conversationID,
		UserID:         userID,
		Status:         "active",
		Model:          s.model,
		Voice:          s.voice,
		Location:       loc,
		CreatedAt:      now,
		ExpiresAt:      expires,
	}
	if err := s.sessions.Create(rctx, record); err != nil {
		s.log.WithFields(logrus.Fields{"op": op, "session_id": sessionID, "user_id": userID}).
			WithError(err).Warn("live session ledger write failed")
	}

	return &LiveSessionConfig{
		SessionID:         sessionID,
		Model:             s.model,
		Voice:             s.voice,
		SystemInstruction: pack.SystemInstruction,
		Token:             token,
		ExpiresAt:         expires,
	}, nil
}

func (s *liveService) EndSession(ctx context.Context, sessionID string) error {
	const op = "LiveService.EndSession"

	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	rctx, cancel := context.WithTimeout(ctx, liveRepoBudget)
	defer cancel()

	sess, err := s.sessions.GetBySessionID(rctx, sessionID)
	if err == nil && sess.ConversationID != "" {
		s.state.Clear(sess.ConversationID)
	}

	if err := s.sessions.End(rctx, sessionID, time.Now().UTC()); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to end session", err)
	}
	return nil
}

func (s *liveService) signToken(sessionID, conversationID, userID string, issued, expires time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sid":  sessionID,
		"cid":  conversationID,
		"sub":  userID,
		"iat":  issued.Unix(),
		"exp":  expires.Unix(),
		"kind": "live-session",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}
