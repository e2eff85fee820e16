// Package chat runs multi-turn conversations against an inference adapter,
// keeping live sessions in a cache and persisting them in batches.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/config"
	"github.com/zen-systems/stockbrief/pkg/store"
	"go.uber.org/zap"
)

const titleLength = 60

// Options configures a Service.
type Options struct {
	Adapter  adapter.Adapter
	Model    string
	System   string
	Store    store.ConversationStore
	Cache    store.SessionCache
	Settings *config.Settings
	Logger   *zap.Logger
}

// Reply is the outcome of one Send.
type Reply struct {
	ConversationID string
	Text           string
	Reasoning      string
	Turns          int
	Persisted      bool
	// Ended is set when the user said goodbye.
	Ended bool
	Usage *adapter.Usage
}

// Service handles chat turns.
type Service struct {
	opts     Options
	settings *config.Settings
	logger   *zap.Logger
	now      func() time.Time
}

// NewService validates opts.
func NewService(opts Options) (*Service, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Cache == nil {
		opts.Cache = store.NewMemoryCache()
	}
	s := &Service{opts: opts, settings: opts.Settings, logger: opts.Logger, now: time.Now}
	if s.settings == nil {
		s.settings = config.DefaultSettings()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// Send appends text as a user turn, asks the model for a reply and records
// both. An empty id starts a new conversation.
func (s *Service) Send(ctx context.Context, id, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is empty")
	}
	if id == "" {
		id = NewConversationID()
	}
	logger := s.logger.With(zap.String("conversation_id", id))

	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Title == "" {
		conv.Title = makeTitle(text)
	}
	conv.Turns = append(conv.Turns, store.Turn{Role: store.RoleUser, Content: text})

	resp, err := s.generate(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", id, err)
	}
	if resp.Reasoning != "" {
		conv.Turns = append(conv.Turns, store.Turn{Role: store.RoleAssistantReasoning, Content: resp.Reasoning})
	}
	conv.Turns = append(conv.Turns, store.Turn{Role: store.RoleAssistant, Content: resp.Text()})
	conv.UpdatedAt = s.now().UTC()

	reply := &Reply{
		ConversationID: id,
		Text:           resp.Text(),
		Reasoning:      resp.Reasoning,
		Ended:          isGoodbye(text),
		Usage:          resp.Usage,
	}

	if reply.Ended || len(conv.Turns)-conv.StoredTurns >= s.settings.Chat.StorageBatchSize {
		if err := s.opts.Store.Save(ctx, conv); err != nil {
			return nil, fmt.Errorf("persist conversation %s: %w", id, err)
		}
		conv.StoredTurns = len(conv.Turns)
		reply.Persisted = true
		logger.Info("conversation persisted", zap.Int("turns", len(conv.Turns)), zap.Bool("ended", reply.Ended))
	}

	if err := s.opts.Cache.Put(ctx, conv, s.settings.Chat.SessionTTL()); err != nil {
		logger.Warn("failed to cache session", zap.Error(err))
	}
	reply.Turns = len(conv.Turns)
	return reply, nil
}

// History returns the conversation as currently known.
func (s *Service) History(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.opts.Cache.Get(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.opts.Store.Get(ctx, id)
}

// Sessions lists the cached session IDs.
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	return s.opts.Cache.List(ctx)
}

// Delete drops a session from the cache. The durable record is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.opts.Cache.Delete(ctx, id)
}

// load reads the session from the cache, then the durable store, and
// starts a new conversation when neither has it.
func (s *Service) load(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.opts.Cache.Get(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("session cache read failed", zap.String("conversation_id", id), zap.Error(err))
	}

	conv, err = s.opts.Store.Get(ctx, id)
	switch {
	case err == nil:
		conv.StoredTurns = len(conv.Turns)
		return conv, nil
	case errors.Is(err, store.ErrNotFound):
		return &store.Conversation{ID: id}, nil
	default:
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
}

func (s *Service) generate(ctx context.Context, conv *store.Conversation) (*adapter.Response, error) {
	req := &adapter.Request{
		Model:    s.opts.Model,
		System:   s.opts.System,
		Messages: window(conv.Turns, s.settings.Chat.MaxHistory),
	}
	if timeout := s.settings.Timeouts.Inference(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.opts.Adapter.Generate(ctx, req)
}

// window converts the last limit turns into model messages. Reasoning turns
// are not replayed and the window never opens on an assistant turn.
func window(turns []store.Turn, limit int) []adapter.Message {
	var msgs []adapter.Message
	for _, turn := range turns {
		switch turn.Role {
		case store.RoleUser:
			msgs = append(msgs, adapter.UserText(turn.Content))
		case store.RoleAssistant:
			msgs = append(msgs, adapter.Message{Role: adapter.RoleAssistant, Content: turn.Content})
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for len(msgs) > 0 && msgs[0].Role != adapter.RoleUser {
		msgs = msgs[1:]
	}
	return msgs
}

func isGoodbye(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if w == "bye" || w == "goodbye" {
			return true
		}
	}
	return false
}

func makeTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= titleLength {
		return text
	}
	return string(runes[:titleLength]) + "..."
}
