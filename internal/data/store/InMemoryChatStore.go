package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
)

type InMemoryChatStore struct {
	chatLock *sync.RWMutex
	chatMap  map[string]chatModel.Chat
	activity map[string][]chatModel.ActivityEntry
}

func InitInMemoryChatStore() *InMemoryChatStore {
	return &InMemoryChatStore{
		chatLock: new(sync.RWMutex),
		chatMap:  make(map[string]chatModel.Chat),
		activity: make(map[string][]chatModel.ActivityEntry),
	}
}

func (store *InMemoryChatStore) UpsertChat(ctx context.Context, chat chatModel.Chat) error {
	if chat.Id == "" {
		return fmt.Errorf("upsert chat: empty id")
	}
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	chat.Messages = append([]chatModel.Message(nil), chat.Messages...)
	store.chatMap[chat.Id] = chat
	inMemLogger.Debug("Saved chat", "chatId", chat.Id)
	return nil
}

func (store *InMemoryChatStore) GetChat(ctx context.Context, chatId string) (chatModel.Chat, bool, error) {
	store.chatLock.RLock()
	defer store.chatLock.RUnlock()
	chat, ok := store.chatMap[chatId]
	if ok {
		chat.Messages = append([]chatModel.Message(nil), chat.Messages...)
	}
	return chat, ok, nil
}

func (store *InMemoryChatStore) ShareChat(ctx context.Context, chatId string, shared bool) error {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	chat, ok := store.chatMap[chatId]
	if !ok {
		return fmt.Errorf("share chat %s: not found", chatId)
	}
	chat.Shared = shared
	store.chatMap[chatId] = chat
	return nil
}

func (store *InMemoryChatStore) AppendActivity(ctx context.Context, entry chatModel.ActivityEntry) error {
	store.chatLock.Lock()
	defer store.chatLock.Unlock()
	log := append(store.activity[entry.KnowledgeBaseId], entry)
	if over := int64(len(log)) - config.ActivityLogMaxItems; over > 0 {
		log = log[over:]
	}
	store.activity[entry.KnowledgeBaseId] = log
	return nil
}

func (store *InMemoryChatStore) ListActivity(ctx context.Context, knowledgeBaseId string, limit int64) ([]chatModel.ActivityEntry, error) {
	store.chatLock.RLock()
	defer store.chatLock.RUnlock()
	log := store.activity[knowledgeBaseId]
	out := make([]chatModel.ActivityEntry, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		out = append(out, log[i])
	}
	return out, nil
}
