package tracker

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// MemoryStatusStore はプロセス内メモリのStatusStoreです
type MemoryStatusStore struct {
	entries map[string]domain.FileStatusEntry
}

// NewMemoryStatusStore は空のMemoryStatusStoreを作成します
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{entries: make(map[string]domain.FileStatusEntry)}
}

func (s *MemoryStatusStore) Get(path string) (domain.FileStatusEntry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

func (s *MemoryStatusStore) Put(entry domain.FileStatusEntry) {
	s.entries[entry.Path] = entry
}

func (s *MemoryStatusStore) Remove(path string) {
	delete(s.entries, path)
}

func (s *MemoryStatusStore) Clear() {
	s.entries = make(map[string]domain.FileStatusEntry)
}

func (s *MemoryStatusStore) Snapshot() map[string]domain.FileStatusEntry {
	out := make(map[string]domain.FileStatusEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

func (s *MemoryStatusStore) Len() int {
	return len(s.entries)
}

// LRUStatusStore は上限付きのStatusStoreです
// 上限を超えると最も使われていないエントリが破棄されます。キャッシュは正本ではないため破棄は安全です
type LRUStatusStore struct {
	cache *lru.Cache[string, domain.FileStatusEntry]
	size  int
}

// NewLRUStatusStore は最大size件を保持するLRUStatusStoreを作成します
func NewLRUStatusStore(size int) (*LRUStatusStore, error) {
	cache, err := lru.New[string, domain.FileStatusEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create status cache: %w", err)
	}
	return &LRUStatusStore{cache: cache, size: size}, nil
}

func (s *LRUStatusStore) Get(path string) (domain.FileStatusEntry, bool) {
	return s.cache.Get(path)
}

func (s *LRUStatusStore) Put(entry domain.FileStatusEntry) {
	s.cache.Add(entry.Path, entry)
}

func (s *LRUStatusStore) Remove(path string) {
	s.cache.Remove(path)
}

func (s *LRUStatusStore) Clear() {
	s.cache.Purge()
}

func (s *LRUStatusStore) Snapshot() map[string]domain.FileStatusEntry {
	keys := s.cache.Keys()
	out := make(map[string]domain.FileStatusEntry, len(keys))
	for _, k := range keys {
		if v, ok := s.cache.Peek(k); ok {
			out[k] = v
		}
	}
	return out
}

func (s *LRUStatusStore) Len() int {
	return s.cache.Len()
}

// NewStatusStore はsizeが0以下ならメモリストア、それ以外ならLRUストアを返します
func NewStatusStore(size int) (domain.StatusStore, error) {
	if size <= 0 {
		return NewMemoryStatusStore(), nil
	}
	return NewLRUStatusStore(size)
}

var (
	_ domain.StatusStore = (*MemoryStatusStore)(nil)
	_ domain.StatusStore = (*LRUStatusStore)(nil)
)
