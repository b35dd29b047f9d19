package workers

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/luminnus/lia-backend/internal/cache"
	"github.com/luminnus/lia-backend/internal/identity"
	"github.com/luminnus/lia-backend/internal/models"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
	"github.com/luminnus/lia-backend/internal/services"
)

const testUserID = "11111111-1111-1111-1111-111111111111"

// scriptedLLM replays fixed chunks.
type scriptedLLM struct {
	chunks []string
}

func (s scriptedLLM) StreamAnswer(_ context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		for _, c := range s.chunks {
			out <- c
		}
		close(out)
		close(errs)
	}()
	return out, errs
}

func (scriptedLLM) Close() error { return nil }

type workerFixture struct {
	pool  *TurnWorkerPool
	convs services.ConversationService
	mems  services.MemoryService
	rdb   *redis.Client
}

func newWorkerFixture(t *testing.T, provider scriptedLLM) *workerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.MemoryFact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	convRepo := pgrepo.NewConversationRepo(db)
	msgRepo := pgrepo.NewMessageRepo(db)
	convs := services.NewConversationService(convRepo, msgRepo)
	mems := services.NewMemoryService(pgrepo.NewMemoryRepo(db), identity.Policy{}, log)
	resources := services.NewResourceService(cache.NewMemoryCache(), convRepo, log)
	contexts := services.NewContextService(convs, mems, resources, services.NewLiveState(), log)

	return &workerFixture{
		pool: &TurnWorkerPool{
			Redis:    rdb,
			Convs:    convs,
			Contexts: contexts,
			Memories: mems,
			Gate:     services.NewMemoryGate(),
			LLM:      provider,
			Logger:   log,
		},
		convs: convs,
		mems:  mems,
		rdb:   rdb,
	}
}

func collectUntilComplete(t *testing.T, sub *redis.PubSub) []map[string]any {
	t.Helper()
	var out []map[string]any
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-sub.Channel():
			var payload map[string]any
			if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
				t.Fatalf("bad payload %q: %v", m.Payload, err)
			}
			out = append(out, payload)
			if payload["type"] == "llm_complete" {
				return out
			}
		case <-deadline:
			t.Fatalf("llm_complete never arrived; got %+v", out)
		}
	}
}

func TestHandleMsg_StreamsPersistsAndExtracts(t *testing.T) {
	f := newWorkerFixture(t, scriptedLLM{chunks: []string{"Olá, ", "Carla!"}})
	ctx := context.Background()

	conv, err := f.convs.Create(ctx, testUserID, models.ModeChat, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	scopeKey := "chat:" + conv.ID
	sub := f.rdb.Subscribe(ctx, "scope:"+scopeKey+":response")
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.pool.handleMsg(ctx, redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"conversation_id": conv.ID,
			"user_id":         testUserID,
			"content":         "meu nome é Carla",
			"scope_key":       scopeKey,
			"origin":          "text",
		},
	})

	payloads := collectUntilComplete(t, sub)

	var chunks []string
	var complete map[string]any
	for _, p := range payloads {
		switch p["type"] {
		case "llm_chunk":
			chunks = append(chunks, p["chunk"].(string))
		case "llm_complete":
			complete = p
		}
	}
	if strings.Join(chunks, "") != "Olá, Carla!" {
		t.Fatalf("chunks = %v", chunks)
	}
	if complete["full_response"] != "Olá, Carla!" {
		t.Fatalf("complete = %+v", complete)
	}
	if complete["message_id"] == "" {
		t.Fatal("assistant message id missing from completion")
	}

	// The reply was persisted as a model message.
	history, err := f.convs.History(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Role != "model" || history[0].Content != "Olá, Carla!" {
		t.Fatalf("history = %+v", history)
	}

	// The gate ran over the user turn after the reply.
	waitFor(t, func() bool {
		facts := f.mems.LoadImportant(ctx, testUserID, 5)
		return len(facts) == 1 && facts[0].Key == "nome_usuario" && facts[0].Content == "Carla"
	})
}

func TestHandleMsg_SmallTalkSavesNoMemory(t *testing.T) {
	f := newWorkerFixture(t, scriptedLLM{chunks: []string{"De nada!"}})
	ctx := context.Background()

	conv, _ := f.convs.Create(ctx, testUserID, models.ModeChat, "")
	f.pool.handleMsg(ctx, redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"conversation_id": conv.ID,
			"user_id":         testUserID,
			"content":         "ok, obrigado!",
			"origin":          "text",
		},
	})

	if facts := f.mems.LoadImportant(ctx, testUserID, 5); len(facts) != 0 {
		t.Fatalf("small talk produced memories: %+v", facts)
	}
}

func TestHandleMsg_IgnoresMalformedEntries(t *testing.T) {
	f := newWorkerFixture(t, scriptedLLM{})
	// Missing conversation_id and content must be a silent drop, not a panic.
	f.pool.handleMsg(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{"origin": "text"}})
}

func TestComposePrompt(t *testing.T) {
	pack := &services.ContextPack{
		SystemInstruction: "Você é a LIA.",
		History: []models.Message{
			{Role: "user", Content: "cria uma planilha"},
			{Role: "model", Content: "criada!"},
		},
	}

	prompt := composePrompt(pack, "adiciona uma linha")

	wantOrder := []string{"Você é a LIA.", "Conversa recente:", "Usuário: cria uma planilha", "LIA: criada!", "Usuário: adiciona uma linha"}
	last := -1
	for _, w := range wantOrder {
		i := strings.Index(prompt, w)
		if i < 0 || i < last {
			t.Fatalf("prompt section %q missing or out of order:\n%s", w, prompt)
		}
		last = i
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
