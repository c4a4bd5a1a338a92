package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/detector"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

const (
	DefaultMaxFileSize     = 10 * 1024 * 1024
	DefaultMaxContentChars = 60000

	// sniffSize はメタデータ判定時に読む先頭バイト数です
	sniffSize = 8000
)

// 判定したエンコーディング名
const (
	EncodingUTF8        = "utf-8"
	EncodingUTF8BOM     = "utf-8-bom"
	EncodingUTF16LE     = "utf-16le"
	EncodingUTF16BE     = "utf-16be"
	EncodingWindows1252 = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Config はContent Extractorの設定です
type Config struct {
	// MaxFileSize を超えるファイルはスキップします。0以下で無制限
	MaxFileSize int64
	// MaxContentChars を超える内容は先頭のみ返します。0以下で無制限
	MaxContentChars int
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		MaxFileSize:     DefaultMaxFileSize,
		MaxContentChars: DefaultMaxContentChars,
	}
}

// FileExtractor は作業ツリー上のファイルからテキスト内容を読み取ります
type FileExtractor struct {
	root     string
	cfg      Config
	detector *detector.ContentTypeDetector
	log      *slog.Logger
}

var _ domain.ContentExtractor = (*FileExtractor)(nil)

// NewFileExtractor はroot配下のファイルを読むFileExtractorを作成します
func NewFileExtractor(root string, cfg Config, log *slog.Logger) *FileExtractor {
	if log == nil {
		log = slog.Default()
	}
	return &FileExtractor{
		root:     root,
		cfg:      cfg,
		detector: detector.NewContentTypeDetector(),
		log:      log,
	}
}

// ExtractContent はファイルのテキスト内容を返します
// 存在しない・空・バイナリ・サイズ超過のファイルは domain.ErrExtractionSkip を返します
func (e *FileExtractor) ExtractContent(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	abs := e.resolve(path)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", domain.ErrExtractionSkip, path)
		}
		return "", fmt.Errorf("%w: failed to stat %s: %v", domain.ErrExtractionSkip, path, err)
	}
	switch {
	case info.IsDir():
		return "", fmt.Errorf("%w: %s is a directory", domain.ErrExtractionSkip, path)
	case info.Size() == 0:
		return "", fmt.Errorf("%w: %s is empty", domain.ErrExtractionSkip, path)
	case e.cfg.MaxFileSize > 0 && info.Size() > e.cfg.MaxFileSize:
		return "", fmt.Errorf("%w: %s is too large (%d bytes)", domain.ErrExtractionSkip, path, info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", domain.ErrExtractionSkip, path, err)
	}

	text, enc, err := decode(data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode %s: %v", domain.ErrExtractionSkip, path, err)
	}
	if enc == "" {
		return "", fmt.Errorf("%w: %s is binary", domain.ErrExtractionSkip, path)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s has no text content", domain.ErrExtractionSkip, path)
	}

	if e.cfg.MaxContentChars > 0 && utf8.RuneCountInString(text) > e.cfg.MaxContentChars {
		e.log.Debug("trimming content", "path", path, "maxChars", e.cfg.MaxContentChars)
		text = truncateRunes(text, e.cfg.MaxContentChars)
	}
	if enc != EncodingUTF8 {
		e.log.Debug("decoded non utf-8 content", "path", path, "encoding", enc)
	}
	return text, nil
}

// Metadata はファイルのサイズ・更新時刻・種別を返します
func (e *FileExtractor) Metadata(path string) (*domain.FileMetadata, error) {
	abs := e.resolve(path)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	head, err := readHead(abs, sniffSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	detection := e.detector.Detect(path, head)
	meta := &domain.FileMetadata{
		Size:         info.Size(),
		LastModified: info.ModTime(),
		DetectedType: detection.Category,
		Language:     detection.Language,
		MIMEType:     detection.MIMEType,
		Encoding:     detectEncoding(head, len(head) == sniffSize),
	}
	return meta, nil
}

func (e *FileExtractor) resolve(path string) string {
	if filepath.IsAbs(path) || e.root == "" {
		return path
	}
	return filepath.Join(e.root, filepath.FromSlash(path))
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// detectEncoding はエンコーディングを推定します。バイナリの場合は空文字を返します
// truncatedはdataがファイルの先頭部分のみであることを示します
func detectEncoding(data []byte, truncated bool) string {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return EncodingUTF8BOM
	case bytes.HasPrefix(data, bomUTF16LE):
		return EncodingUTF16LE
	case bytes.HasPrefix(data, bomUTF16BE):
		return EncodingUTF16BE
	case enry.IsBinary(data):
		return ""
	case utf8.Valid(data):
		return EncodingUTF8
	case truncated && validUTF8Prefix(data):
		return EncodingUTF8
	}
	return EncodingWindows1252
}

// decode はdataをUTF-8文字列に変換します。バイナリの場合はencが空になります
func decode(data []byte) (text string, enc string, err error) {
	enc = detectEncoding(data, false)

	var dec *encoding.Decoder
	switch enc {
	case "":
		return "", "", nil
	case EncodingUTF8:
		return string(data), enc, nil
	case EncodingUTF8BOM:
		return string(data[len(bomUTF8):]), enc, nil
	case EncodingUTF16LE:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingUTF16BE:
		dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	default:
		dec = charmap.Windows1252.NewDecoder()
	}

	out, err := dec.Bytes(data)
	if err != nil {
		return "", enc, err
	}
	return string(out), enc, nil
}

// validUTF8Prefix は途中で切れたマルチバイト文字を許容してUTF-8かどうかを判定します
func validUTF8Prefix(b []byte) bool {
	for i := 1; i < utf8.UTFMax && i < len(b); i++ {
		if utf8.Valid(b[:len(b)-i]) {
			return !utf8.FullRune(b[len(b)-i:])
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
