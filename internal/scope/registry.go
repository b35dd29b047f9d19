// Package scope isolates per-(mode, conversation) message buckets and typing
// state for the UI surfaces orbiting one canonical conversation. Chat,
// multi-modal, and live voice each derive a scope key; multi-modal reuses the
// chat conversation's plain id on purpose, so both surfaces render one stream,
// while live voice stays separate.
package scope

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Mode string

const (
	ModeChat       Mode = "chat"
	ModeMultiModal Mode = "multimodal"
	ModeLive       Mode = "live"
)

// ParseMode normalizes a client-supplied mode string. Conversations persist
// the mode as "multi-modal" while scope keys use "multimodal"; both spellings
// map to the same scope. Unknown strings fall back to chat.
func ParseMode(s string) Mode {
	switch s {
	case "multimodal", "multi-modal":
		return ModeMultiModal
	case "live":
		return ModeLive
	default:
		return ModeChat
	}
}

// Key derives the scope key for a mode/conversation pairing. Multi-modal is
// the bare conversation id (unified with chat's conversation); the other
// modes get composite keys so they never silently merge.
func Key(mode Mode, conversationID string) string {
	switch mode {
	case ModeMultiModal:
		return conversationID
	case ModeLive:
		return "live:" + conversationID
	default:
		return "chat:" + conversationID
	}
}

// Message is the client-side render unit; it mirrors the persisted message
// shape without the storage-only columns.
type Message struct {
	ID        string
	Role      string
	Content   string
	Origin    string
	CreatedAt time.Time
}

type bucket struct {
	messages []Message
	typing   bool
	subs     map[int]chan struct{}
	nextSub  int
}

type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	active  string

	convMu sync.Mutex // serializes conversation creation per registry
	convs  map[Mode]string
}

func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[string]*bucket),
		convs:   make(map[Mode]string),
	}
}

func (r *Registry) bucketFor(key string) *bucket {
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{subs: make(map[int]chan struct{})}
		r.buckets[key] = b
	}
	return b
}

func (r *Registry) Append(key string, msg Message) {
	r.mu.Lock()
	b := r.bucketFor(key)
	b.messages = append(b.messages, msg)
	r.notifyLocked(b)
	r.mu.Unlock()
}

func (r *Registry) Messages(key string) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (r *Registry) SetTyping(key string, typing bool) {
	r.mu.Lock()
	b := r.bucketFor(key)
	if b.typing != typing {
		b.typing = typing
		r.notifyLocked(b)
	}
	r.mu.Unlock()
}

func (r *Registry) Typing(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[key]
	return ok && b.typing
}

// SetActive declares which scope receives newly typed/transcribed input.
// Idempotent: views re-assert their scope on every mount.
func (r *Registry) SetActive(key string) {
	r.mu.Lock()
	r.active = key
	r.bucketFor(key)
	r.mu.Unlock()
}

func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Subscribe returns a channel that receives a tick whenever this bucket's
// messages or typing flag change; other buckets never wake it. The returned
// cancel func must be called when the view unmounts.
func (r *Registry) Subscribe(key string) (<-chan struct{}, func()) {
	r.mu.Lock()
	b := r.bucketFor(key)
	id := b.nextSub
	b.nextSub++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(b.subs, id)
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Registry) notifyLocked(b *bucket) {
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default: // subscriber already has a pending tick
		}
	}
}

// SetConversation records the globally-tracked active conversation for a mode.
func (r *Registry) SetConversation(mode Mode, conversationID string) {
	r.convMu.Lock()
	r.convs[mode] = conversationID
	r.convMu.Unlock()
}

func (r *Registry) Conversation(mode Mode) string {
	r.convMu.Lock()
	defer r.convMu.Unlock()
	return r.convs[mode]
}

const (
	ensurePollInterval = 100 * time.Millisecond
	ensurePollAttempts = 5
)

// EnsureConversation resolves the conversation id a view needs before it can
// compute its scope key. It polls (bounded) for an id tracked by another view
// of the same mode, then creates one itself. Creation is serialized so two
// views racing at startup cannot each mint a conversation, and neither can
// deadlock waiting for the other.
func (r *Registry) EnsureConversation(ctx context.Context, mode Mode, create func(context.Context) (string, error)) (string, error) {
	lookup := mode
	if mode == ModeMultiModal {
		// Multi-modal orbits the chat conversation.
		lookup = ModeChat
	}

	for i := 0; i < ensurePollAttempts; i++ {
		if id := r.Conversation(lookup); id != "" {
			return id, nil
		}
		if i == ensurePollAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(ensurePollInterval):
		}
	}

	if create == nil {
		return "", errors.New("scope: no conversation available and no create func")
	}

	r.convMu.Lock()
	defer r.convMu.Unlock()
	// Another view may have created it while we waited for the lock.
	if id := r.convs[lookup]; id != "" {
		return id, nil
	}

	id, err := create(ctx)
	if err != nil {
		return "", err
	}
	r.convs[lookup] = id
	return id, nil
}
