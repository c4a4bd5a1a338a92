package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

const cacheFileVersion = 1

type cacheFile struct {
	Version       int                      `json:"version"`
	HashAlgorithm string                   `json:"hashAlgorithm"`
	LastCommit    string                   `json:"lastCommit,omitempty"`
	SavedAt       time.Time                `json:"savedAt"`
	Entries       []domain.FileStatusEntry `json:"entries"`
}

// SaveCache はキャッシュと記憶しているコミットをJSONファイルに保存します
func (t *Tracker) SaveCache(path string) error {
	snapshot := t.store.Snapshot()
	entries := make([]domain.FileStatusEntry, 0, len(snapshot))
	for _, e := range snapshot {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	data, err := json.MarshalIndent(cacheFile{
		Version:       cacheFileVersion,
		HashAlgorithm: t.hasher.Name(),
		LastCommit:    t.lastCommit,
		SavedAt:       time.Now().UTC(),
		Entries:       entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-cache-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write status cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close status cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace status cache: %w", err)
	}

	t.log.Debug("saved status cache", "path", path, "entries", len(entries))
	return nil
}

// LoadCache はSaveCacheで保存したファイルからキャッシュを復元します
// ハッシュアルゴリズムが異なる場合、ハッシュは比較できないため破棄します
func (t *Tracker) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read status cache: %w", err)
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to decode status cache: %w", err)
	}
	if cf.Version != cacheFileVersion {
		return fmt.Errorf("unsupported status cache version: %d", cf.Version)
	}

	dropHashes := cf.HashAlgorithm != t.hasher.Name()

	t.store.Clear()
	loaded := 0
	for _, e := range cf.Entries {
		if dropHashes {
			e.ContentHash = ""
		}
		if err := e.Validate(); err != nil {
			t.log.Warn("skipping invalid cache entry", "path", e.Path, "error", err)
			continue
		}
		if e.Status == domain.FileStatusDeleted {
			continue
		}
		t.store.Put(e)
		loaded++
	}
	t.lastCommit = cf.LastCommit

	t.log.Debug("loaded status cache", "path", path, "entries", loaded, "lastCommit", cf.LastCommit)
	return nil
}
