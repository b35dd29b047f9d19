package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/luminnus/lia-backend/internal/models"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
	"github.com/luminnus/lia-backend/internal/utils"
)

func newConversationService(t *testing.T) (ConversationService, pgrepo.ConversationRepo, pgrepo.MessageRepo) {
	t.Helper()
	db := newTestDB(t)
	convRepo := pgrepo.NewConversationRepo(db)
	msgRepo := pgrepo.NewMessageRepo(db)
	return NewConversationService(convRepo, msgRepo), convRepo, msgRepo
}

func TestConversationCreate_Defaults(t *testing.T) {
	svc, _, _ := newConversationService(t)

	conv, err := svc.Create(context.Background(), testUserID, models.ModeChat, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "Nova conversa" {
		t.Fatalf("title = %q, want default", conv.Title)
	}
	if string(conv.Metadata) != "{}" {
		t.Fatalf("metadata = %s, want empty object", conv.Metadata)
	}
	if conv.ID == "" {
		t.Fatal("id not assigned")
	}
}

func TestConversationCreate_RejectsUnknownMode(t *testing.T) {
	svc, _, _ := newConversationService(t)

	_, err := svc.Create(context.Background(), testUserID, "video", "")
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestEnsureForMode_MultiModalReusesChatConversation(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()

	chat, err := svc.EnsureForMode(ctx, testUserID, models.ModeChat)
	if err != nil {
		t.Fatalf("ensure chat: %v", err)
	}

	mm, err := svc.EnsureForMode(ctx, testUserID, models.ModeMultiModal)
	if err != nil {
		t.Fatalf("ensure multi-modal: %v", err)
	}
	if mm.ID != chat.ID {
		t.Fatalf("multi-modal minted its own conversation %s, want chat's %s", mm.ID, chat.ID)
	}

	live, err := svc.EnsureForMode(ctx, testUserID, models.ModeLive)
	if err != nil {
		t.Fatalf("ensure live: %v", err)
	}
	if live.ID == chat.ID {
		t.Fatal("live mode must not reuse the chat conversation")
	}
}

func TestSaveMessage_RoleShim(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, testUserID, models.ModeChat, "")

	cases := []struct {
		role, legacy, want string
	}{
		{"user", "", "user"},
		{"model", "", "model"},
		{"assistant", "", "model"},
		{"", "user", "user"},
		{"", "lia", "model"},
		{"", "assistant", "model"},
		{"", "", "user"},
	}
	for _, c := range cases {
		msg, err := svc.SaveMessage(ctx, SaveMessageInput{
			ConversationID: conv.ID,
			Role:           c.role,
			LegacyType:     c.legacy,
			Content:        "oi",
		})
		if err != nil {
			t.Fatalf("save (role=%q type=%q): %v", c.role, c.legacy, err)
		}
		if msg.Role != c.want {
			t.Errorf("role=%q type=%q stored as %q, want %q", c.role, c.legacy, msg.Role, c.want)
		}
		if msg.Origin != "text" {
			t.Errorf("origin = %q, want default text", msg.Origin)
		}
	}
}

func TestSaveMessage_AttachmentsPersist(t *testing.T) {
	svc, _, msgRepo := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, testUserID, models.ModeChat, "")

	saved, err := svc.SaveMessage(ctx, SaveMessageInput{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        "segue o contrato",
		Origin:         "text",
		Attachments:    []models.Attachment{{Type: "pdf", Name: "contrato.pdf", URL: "https://storage/contrato.pdf"}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	row, err := msgRepo.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(row.Attachments) == 0 {
		t.Fatal("attachments not persisted")
	}
}

func TestHistory_ChronologicalOrder(t *testing.T) {
	svc, _, msgRepo := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, testUserID, models.ModeChat, "")

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"primeira", "segunda", "terceira"} {
		err := msgRepo.Insert(ctx, &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           "user",
			Content:        content,
			Origin:         "text",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := svc.History(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want window of 2", len(rows))
	}
	// Window keeps the newest messages but renders oldest first.
	if rows[0].Content != "segunda" || rows[1].Content != "terceira" {
		t.Fatalf("order = [%s, %s], want chronological", rows[0].Content, rows[1].Content)
	}
}

func TestDelete_CascadesMessages(t *testing.T) {
	svc, _, msgRepo := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, testUserID, models.ModeChat, "")

	for i := 0; i < 3; i++ {
		if _, err := svc.SaveMessage(ctx, SaveMessageInput{ConversationID: conv.ID, Role: "user", Content: "msg"}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if err := svc.Delete(ctx, conv.ID, testUserID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	n, err := msgRepo.CountByConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d orphan messages after delete", n)
	}

	if _, err := svc.Get(ctx, conv.ID); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("get after delete = %v, want NOT_FOUND", err)
	}
}

func TestDelete_ForbiddenForOtherUser(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, testUserID, models.ModeChat, "")

	err := svc.Delete(ctx, conv.ID, uuid.NewString())
	if !utils.IsCode(err, utils.CodeForbidden) {
		t.Fatalf("err = %v, want FORBIDDEN", err)
	}
}

func TestSaveMessage_UnknownConversationRejected(t *testing.T) {
	svc, _, msgRepo := newConversationService(t)
	ctx := context.Background()
	unknown := uuid.NewString()

	_, err := svc.SaveMessage(ctx, SaveMessageInput{ConversationID: unknown, Role: "user", Content: "oi"})
	if !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}

	n, err := msgRepo.CountByConversation(ctx, unknown)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d orphan messages persisted under unknown conversation", n)
	}
}

// deadlineConvRepo and deadlineMsgRepo record store calls that arrive without
// a context deadline.
type deadlineConvRepo struct {
	pgrepo.ConversationRepo
	missing []string
}

func (r *deadlineConvRepo) note(ctx context.Context, method string) {
	if _, ok := ctx.Deadline(); !ok {
		r.missing = append(r.missing, method)
	}
}

func (r *deadlineConvRepo) Insert(ctx context.Context, conv *models.Conversation) error {
	r.note(ctx, "Insert")
	return r.ConversationRepo.Insert(ctx, conv)
}

func (r *deadlineConvRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	r.note(ctx, "GetByID")
	return r.ConversationRepo.GetByID(ctx, id)
}

func (r *deadlineConvRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	r.note(ctx, "ListByUser")
	return r.ConversationRepo.ListByUser(ctx, userID, limit)
}

func (r *deadlineConvRepo) LatestByUserAndMode(ctx context.Context, userID, mode string) (*models.Conversation, error) {
	r.note(ctx, "LatestByUserAndMode")
	return r.ConversationRepo.LatestByUserAndMode(ctx, userID, mode)
}

func (r *deadlineConvRepo) UpdateTitle(ctx context.Context, id, title string) error {
	r.note(ctx, "UpdateTitle")
	return r.ConversationRepo.UpdateTitle(ctx, id, title)
}

func (r *deadlineConvRepo) Touch(ctx context.Context, id string) error {
	r.note(ctx, "Touch")
	return r.ConversationRepo.Touch(ctx, id)
}

func (r *deadlineConvRepo) DeleteCascade(ctx context.Context, id string) error {
	r.note(ctx, "DeleteCascade")
	return r.ConversationRepo.DeleteCascade(ctx, id)
}

type deadlineMsgRepo struct {
	pgrepo.MessageRepo
	missing []string
}

func (r *deadlineMsgRepo) Insert(ctx context.Context, msg *models.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		r.missing = append(r.missing, "Insert")
	}
	return r.MessageRepo.Insert(ctx, msg)
}

func (r *deadlineMsgRepo) LatestN(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		r.missing = append(r.missing, "LatestN")
	}
	return r.MessageRepo.LatestN(ctx, conversationID, n)
}

func TestStoreCallsAreDeadlineBounded(t *testing.T) {
	db := newTestDB(t)
	convRec := &deadlineConvRepo{ConversationRepo: pgrepo.NewConversationRepo(db)}
	msgRec := &deadlineMsgRepo{MessageRepo: pgrepo.NewMessageRepo(db)}
	svc := NewConversationService(convRec, msgRec)
	ctx := context.Background()

	conv, err := svc.Create(ctx, testUserID, models.ModeChat, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.EnsureForMode(ctx, testUserID, models.ModeChat); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := svc.List(ctx, testUserID, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := svc.Rename(ctx, conv.ID, testUserID, "Fluxo de caixa"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.SaveMessage(ctx, SaveMessageInput{ConversationID: conv.ID, Role: "user", Content: "oi"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.History(ctx, conv.ID, 10); err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := svc.Delete(ctx, conv.ID, testUserID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(convRec.missing) > 0 || len(msgRec.missing) > 0 {
		t.Fatalf("store calls without a deadline: conv=%v msg=%v", convRec.missing, msgRec.missing)
	}
}

func TestRename(t *testing.T) {
	svc, repo, _ := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, testUserID, models.ModeChat, "")

	if _, err := svc.Rename(ctx, conv.ID, testUserID, "Fluxo de caixa"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	row, err := repo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Title != "Fluxo de caixa" {
		t.Fatalf("title = %q", row.Title)
	}
}
