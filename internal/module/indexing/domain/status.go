package domain

import (
	"fmt"
	"time"
)

// FileStatus は追跡セッション内でのファイルの状態を表します
type FileStatus string

const (
	FileStatusNew       FileStatus = "new"
	FileStatusModified  FileStatus = "modified"
	FileStatusDeleted   FileStatus = "deleted"
	FileStatusRenamed   FileStatus = "renamed"
	FileStatusUnchanged FileStatus = "unchanged"
	FileStatusUnknown   FileStatus = "unknown"
)

// NeedsProcessing はパイプラインで処理対象となる状態かを返します
func (s FileStatus) NeedsProcessing() bool {
	switch s {
	case FileStatusNew, FileStatusModified, FileStatusRenamed:
		return true
	default:
		return false
	}
}

// FileStatusEntry は1ファイル分の追跡結果です
type FileStatusEntry struct {
	Path         string     `json:"path"`
	Status       FileStatus `json:"status"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Size         *int64     `json:"size,omitempty"`
	ContentHash  string     `json:"contentHash,omitempty"`
	OldPath      string     `json:"oldPath,omitempty"`
}

// Validate はエントリの不変条件を検証します
// OldPath はリネーム時のみ設定され、削除エントリはハッシュを持ちません
func (e FileStatusEntry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("status entry path is empty")
	}
	if (e.OldPath != "") != (e.Status == FileStatusRenamed) {
		return fmt.Errorf("status entry %s: oldPath must be set only for renamed entries (status=%s)", e.Path, e.Status)
	}
	if e.Status == FileStatusDeleted && e.ContentHash != "" {
		return fmt.Errorf("status entry %s: deleted entry must not carry a content hash", e.Path)
	}
	return nil
}

func (e FileStatusEntry) String() string {
	if e.Status == FileStatusRenamed {
		return fmt.Sprintf("%s (%s) [from %s]", e.Path, e.Status, e.OldPath)
	}
	return fmt.Sprintf("%s (%s)", e.Path, e.Status)
}

// StatusStore はTrackerが所有するpath→状態のキャッシュです
// 実装は単一Trackerからの直列アクセスを前提とします
type StatusStore interface {
	Get(path string) (FileStatusEntry, bool)
	Put(entry FileStatusEntry)
	Remove(path string)
	Clear()
	// Snapshot は現在の内容のコピーを返します
	Snapshot() map[string]FileStatusEntry
	Len() int
}

// TrackingOutcomeKind は追跡結果の種別です
type TrackingOutcomeKind int

const (
	TrackingChanges TrackingOutcomeKind = iota
	TrackingUpToDate
	TrackingFailed
)

func (k TrackingOutcomeKind) String() string {
	switch k {
	case TrackingChanges:
		return "changes"
	case TrackingUpToDate:
		return "up_to_date"
	case TrackingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TrackingOutcome は「変更あり」「最新」「失敗」を区別する追跡結果です
type TrackingOutcome struct {
	Kind    TrackingOutcomeKind
	Entries []FileStatusEntry
	Err     error
}

// ChangesOutcome は変更ありの結果を作成します。空の場合はUpToDateになります
func ChangesOutcome(entries []FileStatusEntry) TrackingOutcome {
	if len(entries) == 0 {
		return UpToDateOutcome()
	}
	return TrackingOutcome{Kind: TrackingChanges, Entries: entries}
}

func UpToDateOutcome() TrackingOutcome {
	return TrackingOutcome{Kind: TrackingUpToDate}
}

func FailedOutcome(err error) TrackingOutcome {
	return TrackingOutcome{Kind: TrackingFailed, Err: fmt.Errorf("%w: %w", ErrTrackingFailed, err)}
}

// Failed は追跡に失敗したかを返します
func (o TrackingOutcome) Failed() bool {
	return o.Kind == TrackingFailed
}
