package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	large := filepath.Join(dir, "large.txt")
	require.NoError(t, os.WriteFile(small, []byte("hello"), 0o644))
	// チャンク境界をまたぐサイズ
	require.NoError(t, os.WriteFile(large, []byte(strings.Repeat("a", hashChunkSize*2+17)), 0o644))

	tests := []struct {
		algorithm string
		wantSmall string
		hexLen    int
	}{
		{algorithm: HashMD5, wantSmall: "5d41402abc4b2a76b9719d911017c592", hexLen: 32},
		{algorithm: HashSHA1, wantSmall: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", hexLen: 40},
		{algorithm: HashSHA256, wantSmall: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hexLen: 64},
		{algorithm: HashXXH3, hexLen: 16},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			h, err := NewHasher(tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, h.Name())

			sum, err := h.HashFile(small)
			require.NoError(t, err)
			assert.Len(t, sum, tt.hexLen)
			if tt.wantSmall != "" {
				assert.Equal(t, tt.wantSmall, sum)
			}

			again, err := h.HashFile(small)
			require.NoError(t, err)
			assert.Equal(t, sum, again)

			largeSum, err := h.HashFile(large)
			require.NoError(t, err)
			assert.NotEqual(t, sum, largeSum)
		})
	}
}

func TestNewHasher_DefaultIsXXH3(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)
	assert.Equal(t, HashXXH3, h.Name())
}

func TestHasher_MissingFile(t *testing.T) {
	h, err := NewHasher(HashSHA256)
	require.NoError(t, err)
	_, err = h.HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
