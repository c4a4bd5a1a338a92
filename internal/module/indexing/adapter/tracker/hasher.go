package tracker

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// hashChunkSize はハッシュ計算時の読み込み単位です
const hashChunkSize = 4096

// サポートするハッシュアルゴリズム
const (
	HashXXH3   = "xxh3"
	HashSHA256 = "sha256"
	HashSHA1   = "sha1"
	HashMD5    = "md5"
)

// Hasher はファイル内容のダイジェストを計算します
type Hasher interface {
	Name() string
	HashFile(path string) (string, error)
}

type digestHasher struct {
	name    string
	newHash func() hash.Hash
	encode  func(h hash.Hash) string
}

// NewHasher はアルゴリズム名からHasherを作成します
func NewHasher(algorithm string) (Hasher, error) {
	hexSum := func(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }

	switch algorithm {
	case "", HashXXH3:
		return &digestHasher{
			name:    HashXXH3,
			newHash: func() hash.Hash { return xxh3.New() },
			encode: func(h hash.Hash) string {
				return fmt.Sprintf("%016x", h.(*xxh3.Hasher).Sum64())
			},
		}, nil
	case HashSHA256:
		return &digestHasher{name: HashSHA256, newHash: sha256.New, encode: hexSum}, nil
	case HashSHA1:
		return &digestHasher{name: HashSHA1, newHash: sha1.New, encode: hexSum}, nil
	case HashMD5:
		return &digestHasher{name: HashMD5, newHash: md5.New, encode: hexSum}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

func (d *digestHasher) Name() string {
	return d.name
}

// HashFile はファイルを4KB単位で読み込みダイジェストを返します
func (d *digestHasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := d.newHash()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return d.encode(h), nil
}
