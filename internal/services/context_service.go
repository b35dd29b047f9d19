package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luminnus/lia-backend/internal/models"
)

// ContextPack is the assembled bundle handed to the model for one turn.
type ContextPack struct {
	History           []models.Message        `json:"history"`
	Memories          []models.MemoryFact     `json:"memories"`
	Resource          *models.ResourceContext `json:"resource,omitempty"`
	SystemInstruction string                  `json:"system_instruction"`
}

type ContextOptions struct {
	HistoryLimit int
	MemoryLimit  int
	// Location overrides the live-session location when set (the live-token
	// path passes the location it just received from the client).
	Location *models.LiveLocation
}

const defaultHistoryWindow = 20

const personaPreamble = `Você é a LIA, assistente de negócios da Luminnus. ` +
	`Seja direta, prática e cordial. Responda no idioma do usuário. ` +
	`Use os fatos conhecidos abaixo quando forem relevantes, sem citá-los mecanicamente.`

// nameKeys are tried in order before the substring heuristic; key naming was
// never fully normalized upstream, so exact lookup alone misses legacy rows.
var nameKeys = []string{"nome_usuario", "nome", "user_name", "name"}

var nameKeyHints = []string{"nome", "name", "cham"}

type ContextService interface {
	// GetContext is read-only and safe to call more than once per turn (text
	// reply and live-token mint both use it).
	GetContext(ctx context.Context, conversationID, userID string, opts ContextOptions) (*ContextPack, error)
}

type contextService struct {
	convs     ConversationService
	memories  MemoryService
	resources ResourceService
	live      *LiveState
	log       *logrus.Logger
}

func NewContextService(convs ConversationService, memories MemoryService, resources ResourceService, live *LiveState, log *logrus.Logger) ContextService {
	return &contextService{convs: convs, memories: memories, resources: resources, live: live, log: log}
}

func (s *contextService) GetContext(ctx context.Context, conversationID, userID string, opts ContextOptions) (*ContextPack, error) {
	const op = "ContextService.GetContext"

	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryWindow
	}

	var (
		wg      sync.WaitGroup
		history []models.Message
		facts   []models.MemoryFact
	)

	// History and memories have no data dependency; fetch them concurrently.
	wg.Add(2)
	go func() {
		defer wg.Done()
		rows, err := s.convs.History(ctx, conversationID, opts.HistoryLimit)
		if err != nil {
			// Degraded turn: the assistant answers without history rather
			// than blocking the conversation.
			s.log.WithFields(logrus.Fields{"op": op, "conversation_id": conversationID}).
				WithError(err).Warn("history load failed, continuing without it")
			return
		}
		history = rows
	}()
	go func() {
		defer wg.Done()
		facts = s.memories.LoadImportant(ctx, userID, opts.MemoryLimit)
	}()
	wg.Wait()

	var resource *models.ResourceContext
	if conversationID != "" {
		resource = s.resources.GetContext(ctx, conversationID)
		if resource == nil || resource.ActiveSpreadsheet == nil {
			// Last resort: the structured store has no sheet, but a Sheets URL
			// in recent history still identifies what "that spreadsheet" means.
			if id := s.resources.ExtractSpreadsheetIDFromHistory(history); id != "" {
				if resource == nil {
					resource = &models.ResourceContext{ConversationID: conversationID, UserID: userID}
				}
				resource.ActiveSpreadsheet = &models.ActiveSpreadsheet{
					ID:  id,
					URL: "https://docs.google.com/spreadsheets/d/" + id,
				}
			}
		}
	}

	location := opts.Location
	if location == nil && s.live != nil {
		location = s.live.Location(conversationID)
	}

	pack := &ContextPack{
		History:           history,
		Memories:          facts,
		Resource:          resource,
		SystemInstruction: composeSystemInstruction(facts, resource, location),
	}
	return pack, nil
}

// composeSystemInstruction interpolates the persona with whatever is known.
// Unknown fields are omitted entirely, never rendered as placeholders.
func composeSystemInstruction(facts []models.MemoryFact, resource *models.ResourceContext, location *models.LiveLocation) string {
	var b strings.Builder
	b.WriteString(personaPreamble)

	if name := resolveUserName(facts); name != "" {
		fmt.Fprintf(&b, "\n\nO nome do usuário é %s. Sempre chame o usuário pelo nome.", name)
	}

	if location != nil {
		place := location.City
		if location.Region != "" {
			if place != "" {
				place += ", "
			}
			place += location.Region
		}
		if place != "" {
			fmt.Fprintf(&b, "\nO usuário está em %s.", place)
		}
	}

	if resource != nil {
		if sheet := resource.ActiveSpreadsheet; sheet != nil {
			title := sheet.Title
			if title == "" {
				title = sheet.ID
			}
			fmt.Fprintf(&b, "\nPlanilha ativa nesta conversa: %s (%s). Operações de planilha referem-se a ela, salvo indicação contrária.", title, sheet.URL)
		}
		if doc := resource.ActiveDocument; doc != nil {
			fmt.Fprintf(&b, "\nDocumento ativo nesta conversa: %s.", doc.URL)
		}
	}

	if len(facts) > 0 {
		b.WriteString("\n\nFatos conhecidos sobre o usuário:")
		for _, f := range facts {
			fmt.Fprintf(&b, "\n- %s: %s", f.Key, f.Content)
		}
	}

	return b.String()
}

// resolveUserName tries the exact candidate keys first, then falls back to a
// substring match for legacy rows with unnormalized key names.
func resolveUserName(facts []models.MemoryFact) string {
	byKey := make(map[string]string, len(facts))
	for _, f := range facts {
		byKey[f.Key] = f.Content
	}

	for _, k := range nameKeys {
		if v := strings.TrimSpace(byKey[k]); v != "" {
			return v
		}
	}

	for _, f := range facts {
		lowered := strings.ToLower(f.Key)
		for _, hint := range nameKeyHints {
			if strings.Contains(lowered, hint) {
				if v := strings.TrimSpace(f.Content); v != "" {
					return v
				}
			}
		}
	}
	return ""
}
