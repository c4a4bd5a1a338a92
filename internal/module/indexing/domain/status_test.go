package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStatusEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   FileStatusEntry
		wantErr bool
	}{
		{
			name:  "新規ファイル",
			entry: FileStatusEntry{Path: "a.py", Status: FileStatusNew, ContentHash: "abc"},
		},
		{
			name:  "リネーム（旧パスあり）",
			entry: FileStatusEntry{Path: "b.py", Status: FileStatusRenamed, OldPath: "a.py"},
		},
		{
			name:    "リネームなのに旧パスなし",
			entry:   FileStatusEntry{Path: "b.py", Status: FileStatusRenamed},
			wantErr: true,
		},
		{
			name:    "リネーム以外で旧パスあり",
			entry:   FileStatusEntry{Path: "b.py", Status: FileStatusModified, OldPath: "a.py"},
			wantErr: true,
		},
		{
			name:    "削除エントリにハッシュ",
			entry:   FileStatusEntry{Path: "a.py", Status: FileStatusDeleted, ContentHash: "abc"},
			wantErr: true,
		},
		{
			name:    "パスが空",
			entry:   FileStatusEntry{Status: FileStatusNew},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileStatusEntry_String(t *testing.T) {
	assert.Equal(t, "a.py (new)", FileStatusEntry{Path: "a.py", Status: FileStatusNew}.String())
	assert.Equal(t, "b.py (renamed) [from a.py]",
		FileStatusEntry{Path: "b.py", Status: FileStatusRenamed, OldPath: "a.py"}.String())
}

func TestFileStatus_NeedsProcessing(t *testing.T) {
	assert.True(t, FileStatusNew.NeedsProcessing())
	assert.True(t, FileStatusModified.NeedsProcessing())
	assert.True(t, FileStatusRenamed.NeedsProcessing())
	assert.False(t, FileStatusDeleted.NeedsProcessing())
	assert.False(t, FileStatusUnchanged.NeedsProcessing())
	assert.False(t, FileStatusUnknown.NeedsProcessing())
}

func TestTrackingOutcome(t *testing.T) {
	t.Run("空の変更はUpToDate", func(t *testing.T) {
		outcome := ChangesOutcome(nil)
		assert.Equal(t, TrackingUpToDate, outcome.Kind)
		assert.False(t, outcome.Failed())
	})

	t.Run("変更あり", func(t *testing.T) {
		outcome := ChangesOutcome([]FileStatusEntry{{Path: "a.py", Status: FileStatusNew}})
		assert.Equal(t, TrackingChanges, outcome.Kind)
		assert.Len(t, outcome.Entries, 1)
	})

	t.Run("失敗は原因を保持する", func(t *testing.T) {
		cause := errors.New("diff failed")
		outcome := FailedOutcome(cause)
		require.True(t, outcome.Failed())
		assert.ErrorIs(t, outcome.Err, ErrTrackingFailed)
		assert.ErrorIs(t, outcome.Err, cause)
		assert.Equal(t, "failed", outcome.Kind.String())
	})
}
