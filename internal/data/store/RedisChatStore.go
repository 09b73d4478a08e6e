package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/data/redisStore"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

const (
	chatKeyPrefix     = "chat:"
	activityKeyPrefix = "activity:"
)

// RedisChatStore keeps one JSON transcript per chat id. Writes overwrite, so the last turn to finish wins.
type RedisChatStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

func GetRedisChatStore(ctx context.Context, settings *config.Settings) *RedisChatStore {
	s := redisStore.GetRedisStore(ctx, settings, config.RedisChatStore)
	if s == nil {
		return nil
	}
	return NewRedisChatStore(s)
}

func NewRedisChatStore(s *redisStore.Store) *RedisChatStore {
	return &RedisChatStore{store: s, logger: logger_i.NewLogger("ChatStore")}
}

func (s *RedisChatStore) UpsertChat(ctx context.Context, chat chatModel.Chat) error {
	if chat.Id == "" {
		return fmt.Errorf("upsert chat: empty id")
	}
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	if err := s.store.Set(ctx, chatKeyPrefix+chat.Id, data, 0); err != nil {
		s.logger.WithTrace(ctx).Error("error saving chat", "chatId", chat.Id, "error", err)
		return err
	}
	s.logger.WithTrace(ctx).Debug("Saved chat", "chatId", chat.Id, "messages", len(chat.Messages))
	return nil
}

func (s *RedisChatStore) GetChat(ctx context.Context, chatId string) (chatModel.Chat, bool, error) {
	var chat chatModel.Chat
	val, err := s.store.Get(ctx, chatKeyPrefix+chatId)
	if s.store.IsNil(err) {
		return chat, false, nil
	}
	if err != nil {
		return chat, false, err
	}
	if err := json.Unmarshal([]byte(val), &chat); err != nil {
		return chat, false, fmt.Errorf("unmarshal chat %s: %w", chatId, err)
	}
	return chat, true, nil
}

func (s *RedisChatStore) ShareChat(ctx context.Context, chatId string, shared bool) error {
	chat, found, err := s.GetChat(ctx, chatId)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("share chat %s: not found", chatId)
	}
	chat.Shared = shared
	return s.UpsertChat(ctx, chat)
}

func (s *RedisChatStore) AppendActivity(ctx context.Context, entry chatModel.ActivityEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	return s.store.ListAppendCapped(ctx, activityKeyPrefix+entry.KnowledgeBaseId, data, config.ActivityLogMaxItems)
}

// ListActivity returns the newest entries, newest first.
func (s *RedisChatStore) ListActivity(ctx context.Context, knowledgeBaseId string, limit int64) ([]chatModel.ActivityEntry, error) {
	raw, err := s.store.ListTail(ctx, activityKeyPrefix+knowledgeBaseId, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]chatModel.ActivityEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var entry chatModel.ActivityEntry
		if err := json.Unmarshal([]byte(raw[i]), &entry); err != nil {
			s.logger.WithTrace(ctx).Warn("skipping corrupt activity entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
