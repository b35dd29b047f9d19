package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/providers/llm"
	"github.com/luminnus/lia-backend/internal/services"
)

// TurnWorkerPool consumes user turns from a Redis stream, assembles the
// context pack, streams the model reply back onto the originating scope's
// channel, persists the assistant message, and finally runs the memory gate
// over the user turn. Gate evaluation happens after the reply is already on
// its way; memory persistence never delays a response.
type TurnWorkerPool struct {
	Redis      *redis.Client
	Convs      services.ConversationService
	Contexts   services.ContextService
	Memories   services.MemoryService
	Gate       services.MemoryGate
	NumWorkers int

	LLM llm.Provider

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *TurnWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Convs == nil || p.Contexts == nil || p.Memories == nil || p.Gate == nil || p.LLM == nil {
		return errors.New("TurnWorkerPool missing dependency: Redis/Convs/Contexts/Memories/Gate/LLM must be set")
	}
	if p.Stream == "" {
		p.Stream = "turns:stream"
	}
	if p.Group == "" {
		p.Group = "turn-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *TurnWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *TurnWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	conversationID := getStr("conversation_id")
	userID := getStr("user_id")
	content := getStr("content")
	scopeKey := getStr("scope_key")
	origin := getStr("origin")
	if conversationID == "" || content == "" {
		return
	}
	if scopeKey == "" {
		scopeKey = conversationID
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":        msg.ID,
		"conversation_id": conversationID,
		"scope_key":       scopeKey,
	})

	respCh := "scope:" + scopeKey + ":response"
	statusCh := "scope:" + scopeKey + ":status"

	_ = p.Redis.Publish(ctx, statusCh, `{"type":"status","status":"processing","message":"assembling context"}`).Err()

	pack, err := p.Contexts.GetContext(ctx, conversationID, userID, services.ContextOptions{})
	if err != nil {
		// GetContext degrades internally; an error here is a programming
		// problem, not a store outage.
		log.WithError(err).Error("context assembly failed")
		_ = p.Redis.Publish(ctx, statusCh, `{"type":"status","status":"failed","message":"context failed"}`).Err()
		return
	}

	prompt := composePrompt(pack, content)

	start := time.Now()
	chunks, errs := p.LLM.StreamAnswer(ctx, prompt)

	full := strings.Builder{}
	seq := int64(0)

	for chunk := range chunks {
		seq++
		full.WriteString(chunk)

		chPayload, _ := json.Marshal(map[string]any{
			"type":  "llm_chunk",
			"seq":   seq,
			"chunk": chunk,
		})
		_ = p.Redis.Publish(ctx, respCh, string(chPayload)).Err()
	}

	var streamErr error
	select {
	case streamErr = <-errs:
	default:
	}
	if streamErr != nil {
		log.WithError(streamErr).Error("llm stream failed")
		_ = p.Redis.Publish(ctx, statusCh, `{"type":"status","status":"failed","message":"llm failed"}`).Err()
		return
	}

	answer := full.String()
	procMS := time.Since(start).Milliseconds()

	saved, err := p.Convs.SaveMessage(ctx, services.SaveMessageInput{
		ConversationID: conversationID,
		Role:           "model",
		Content:        answer,
		Origin:         origin,
	})
	if err != nil {
		log.WithError(err).Error("assistant message persist failed")
	}

	donePayload, _ := json.Marshal(map[string]any{
		"type":               "llm_complete",
		"message_id":         messageID(saved),
		"full_response":      answer,
		"processing_time_ms": procMS,
	})
	_ = p.Redis.Publish(ctx, respCh, string(donePayload)).Err()
	_ = p.Redis.Publish(ctx, statusCh, `{"type":"status","status":"done","message":"turn processed"}`).Err()

	// Memory gate runs after the reply; each extraction saves independently
	// and a failed key never rolls back its siblings.
	for _, ex := range p.Gate.Extract(content) {
		res := p.Memories.Save(ctx, userID, ex.Key, ex.Value, true)
		if res.Status == services.SaveCachedLocally {
			log.WithField("key", ex.Key).Warn("memory extraction cached locally")
		}
	}
}

func messageID(m *models.Message) string {
	if m == nil {
		return ""
	}
	return m.ID
}

func composePrompt(pack *services.ContextPack, userContent string) string {
	var b strings.Builder
	b.WriteString(pack.SystemInstruction)

	if len(pack.History) > 0 {
		b.WriteString("\n\nConversa recente:")
		for _, m := range pack.History {
			speaker := "Usuário"
			if m.Role == "model" {
				speaker = "LIA"
			}
			b.WriteString("\n")
			b.WriteString(speaker)
			b.WriteString(": ")
			b.WriteString(m.Content)
		}
	}

	b.WriteString("\n\nUsuário: ")
	b.WriteString(userContent)
	return b.String()
}
