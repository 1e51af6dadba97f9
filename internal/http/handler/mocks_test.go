package handler_test

import (
	"context"
	"sync"

	"socialpulse.app/autopilot/internal/generator"
	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/source"
	"socialpulse.app/autopilot/internal/store"
)

type stubSourceClient struct{}

func (stubSourceClient) GetAccountInfo(context.Context) (*model.AccountInfo, error) {
	return &model.AccountInfo{ID: "acct-1", Username: "ourbrand"}, nil
}
func (stubSourceClient) GetAccountPosts(context.Context, int) ([]model.Post, error) {
	return nil, nil
}
func (stubSourceClient) GetRecentComments(context.Context, string) ([]model.Comment, error) {
	return nil, nil
}
func (stubSourceClient) ReplyToComment(_ context.Context, commentID, _ string) (*source.Reply, error) {
	return &source.Reply{ID: "reply-" + commentID}, nil
}
func (stubSourceClient) SendPrivateReply(_ context.Context, commentID, _ string) (*source.Reply, error) {
	return &source.Reply{ID: "dm-" + commentID}, nil
}

type stubGenerator struct{}

func (stubGenerator) GenerateReply(context.Context, generator.Request) (string, error) {
	return "Thanks!", nil
}

type memProcessedStore struct {
	mu    sync.Mutex
	rows  []model.ProcessedComment
	index map[string]bool
}

func newMemProcessedStore() *memProcessedStore {
	return &memProcessedStore{index: make(map[string]bool)}
}

func (s *memProcessedStore) IsProcessed(_ context.Context, commentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[commentID], nil
}

func (s *memProcessedStore) Mark(_ context.Context, pc *model.ProcessedComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index[pc.CommentID] {
		return nil
	}
	s.index[pc.CommentID] = true
	s.rows = append(s.rows, *pc)
	return nil
}

func (s *memProcessedStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *memProcessedStore) ListRecent(_ context.Context, limit int32) ([]model.ProcessedComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.ProcessedComment
	for i := len(s.rows) - 1; i >= 0 && len(result) < int(limit); i-- {
		result = append(result, s.rows[i])
	}
	return result, nil
}

type memActivityLog struct {
	mu      sync.Mutex
	entries []model.ActivityEntry
}

func (s *memActivityLog) Append(_ context.Context, entry *model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memActivityLog) ListRecent(_ context.Context, limit int32) ([]model.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.ActivityEntry
	for i := len(s.entries) - 1; i >= 0 && len(result) < int(limit); i-- {
		result = append(result, s.entries[i])
	}
	return result, nil
}

type memStateStore struct {
	mu       sync.Mutex
	snapshot *model.AutomationSnapshot
}

func (s *memStateStore) Save(_ context.Context, snapshot *model.AutomationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snapshot
	s.snapshot = &copied
	return nil
}

func (s *memStateStore) Load(_ context.Context) (*model.AutomationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, store.ErrNotFound
	}
	copied := *s.snapshot
	return &copied, nil
}
