package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/luminnus/lia-backend/internal/scope"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

type WSHandler struct {
	convs    services.ConversationService
	scopes   *scope.Registry
	redis    *redis.Client
	upgrader websocket.Upgrader
}

func NewWSHandler(convs services.ConversationService, scopes *scope.Registry, rdb *redis.Client) *WSHandler {
	return &WSHandler{
		convs:  convs,
		scopes: scopes,
		redis:  rdb,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsClientMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Origin  string `json:"origin"`
	Typing  bool   `json:"typing"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// ConversationWS streams one scope's turn lifecycle: the client sends
// user_message frames, the server persists them and enqueues a turn; workers
// publish chunks and status onto the scope's Redis channels, which this socket
// forwards.
func (h *WSHandler) ConversationWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	if conversationID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.ConversationWS", "missing conversation id", nil))
		return
	}

	// authorize conversation ownership
	conv, err := h.convs.Get(c.Request.Context(), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if conv.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "WSHandler.ConversationWS", "forbidden", nil))
		return
	}

	mode := scope.ParseMode(c.DefaultQuery("mode", string(scope.ModeChat)))
	scopeKey := scope.Key(mode, conversationID)
	h.scopes.SetConversation(mode, conversationID)
	h.scopes.SetActive(scopeKey)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe Redis -> WS
	respCh := "scope:" + scopeKey + ":response"
	statusCh := "scope:" + scopeKey + ":status"

	pubsub := h.redis.Subscribe(ctx, respCh, statusCh)
	defer pubsub.Close()

	// reader: WS -> persisted message + Redis Stream turn
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
				continue
			}

			switch msg.Type {
			case "user_message":
				if msg.Content == "" {
					_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"content is required"}`))
					continue
				}

				saved, err := h.convs.SaveMessage(ctx, services.SaveMessageInput{
					ConversationID: conversationID,
					Role:           "user",
					Content:        msg.Content,
					Origin:         msg.Origin,
				})
				if err != nil {
					_ = wc.writeText([]byte(`{"type":"error","code":"INTERNAL","message":"failed to save message"}`))
					continue
				}

				h.scopes.Append(scopeKey, scope.Message{
					ID:        saved.ID,
					Role:      saved.Role,
					Content:   saved.Content,
					Origin:    saved.Origin,
					CreatedAt: saved.CreatedAt,
				})

				if err := h.redis.XAdd(ctx, &redis.XAddArgs{
					Stream: "turns:stream",
					Values: map[string]any{
						"conversation_id": conversationID,
						"user_id":         userID,
						"message_id":      saved.ID,
						"content":         msg.Content,
						"origin":          saved.Origin,
						"scope_key":       scopeKey,
					},
				}).Err(); err != nil {
					_ = wc.writeText([]byte(`{"type":"error","code":"UNAVAILABLE","message":"failed to enqueue turn"}`))
					continue
				}

				_ = h.redis.Publish(ctx, statusCh, `{"type":"status","status":"processing","message":"turn queued"}`).Err()

			case "typing":
				h.scopes.SetTyping(scopeKey, msg.Typing)
				payload, _ := json.Marshal(map[string]any{"type": "typing", "typing": msg.Typing})
				_ = h.redis.Publish(ctx, statusCh, string(payload)).Err()

			case "end":
				h.scopes.SetTyping(scopeKey, false)
				_ = h.redis.Publish(ctx, statusCh, `{"type":"status","status":"ended","message":"scope closed"}`).Err()
				return

			default:
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
			}
		}
	}()

	// writer: Redis Pub/Sub -> WS
	go func() {
		ch := pubsub.Channel()
		for m := range ch {
			// forward as-is (payload expected JSON string)
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				cancel()
				return
			}
		}
	}()

	// keepalive pings until the reader side drops
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			wc.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wc.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
