package detector

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// ファイル種別のカテゴリ
const (
	CategorySourceCode    = "source_code"
	CategoryWeb           = "web"
	CategoryData          = "data"
	CategoryDocumentation = "documentation"
	CategoryConfiguration = "configuration"
	CategoryScript        = "script"
	CategoryMarkup        = "markup"
	CategoryBinary        = "binary"
	CategoryUnknown       = "unknown"
)

// Detection はファイル種別の判定結果です
type Detection struct {
	Language string
	MIMEType string
	Category string
}

// ContentTypeDetector はファイルの言語・MIMEタイプ・カテゴリを判定します
type ContentTypeDetector struct{}

// NewContentTypeDetector は新しいContentTypeDetectorを作成します
func NewContentTypeDetector() *ContentTypeDetector {
	return &ContentTypeDetector{}
}

// Detect はファイルパスと内容から種別をまとめて判定します
func (d *ContentTypeDetector) Detect(path string, content []byte) Detection {
	filename := filepath.Base(path)

	if len(content) > 0 && enry.IsBinary(content) {
		return Detection{
			MIMEType: sniffMimeType(content),
			Category: CategoryBinary,
		}
	}

	// go-enryで言語を判定（ファイル名と内容の両方を使用）
	language := enry.GetLanguage(filename, content)

	category := CategoryForPath(path)
	if category == CategoryUnknown && language != "" {
		category = categoryForLanguage(language)
	}

	return Detection{
		Language: language,
		MIMEType: d.DetectContentType(path, content),
		Category: category,
	}
}

// DetectContentType はファイルパスと内容からMIMEタイプを判定します
func (d *ContentTypeDetector) DetectContentType(path string, content []byte) string {
	language := enry.GetLanguage(filepath.Base(path), content)

	// 言語からMIMEタイプへのマッピング
	if mimeType := languageToMimeType(language); mimeType != "" {
		return mimeType
	}

	if len(content) > 0 {
		return sniffMimeType(content)
	}

	// 内容が空の場合はプレーンテキスト
	return "text/plain"
}

// sniffMimeType は先頭512バイトからMIMEタイプを推定します
func sniffMimeType(content []byte) string {
	detected := http.DetectContentType(content)
	// パラメータ部分（; charset=utf-8など）を除去
	if idx := strings.Index(detected, ";"); idx != -1 {
		detected = detected[:idx]
	}
	return strings.TrimSpace(detected)
}

// CategoryForPath は拡張子と特殊なファイル名からカテゴリを返します
func CategoryForPath(path string) string {
	name := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(name))

	if category, ok := extensionCategories[ext]; ok {
		return category
	}

	switch name {
	case "readme", "readme.md", "readme.txt", "license", "license.txt", "copying", "copyright":
		return CategoryDocumentation
	case "dockerfile", "makefile", "gemfile", "rakefile",
		".gitignore", ".dockerignore", ".gitattributes", ".editorconfig":
		return CategoryConfiguration
	}
	return CategoryUnknown
}

// IsReadme はパスがREADMEかどうかを返します
func IsReadme(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.TrimSuffix(name, filepath.Ext(name)) == "readme"
}

func categoryForLanguage(language string) string {
	switch enry.GetLanguageType(language) {
	case enry.Programming:
		switch language {
		case "Shell", "PowerShell", "Batchfile":
			return CategoryScript
		case "HTML", "CSS", "SCSS", "Sass", "Less":
			return CategoryWeb
		}
		return CategorySourceCode
	case enry.Data:
		return CategoryData
	case enry.Markup:
		return CategoryMarkup
	case enry.Prose:
		return CategoryDocumentation
	}
	return CategoryUnknown
}

var extensionCategories = buildExtensionCategories(map[string][]string{
	CategorySourceCode: {
		".py", ".pyi", ".pyx", ".pxd", ".pxi",
		".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs",
		".java", ".kt", ".groovy",
		".c", ".h", ".cpp", ".hpp", ".cc", ".cxx",
		".cs", ".rb", ".go", ".rs", ".php", ".swift",
		".scala", ".clj", ".erl", ".ex", ".exs", ".elm", ".hs", ".lua", ".r",
		".proto",
	},
	CategoryWeb: {
		".html", ".htm", ".css", ".scss", ".sass", ".less", ".jsp", ".asp", ".aspx", ".vue", ".svelte",
	},
	CategoryData: {
		".json", ".xml", ".yml", ".yaml", ".toml", ".csv", ".tsv", ".sql", ".graphql",
	},
	CategoryDocumentation: {
		".md", ".rst", ".txt", ".adoc", ".wiki", ".org", ".rtf",
	},
	CategoryConfiguration: {
		".ini", ".cfg", ".conf", ".config", ".properties", ".env", ".rc", ".tf", ".hcl",
	},
	CategoryScript: {
		".sh", ".bash", ".zsh", ".ps1", ".bat", ".cmd",
	},
	CategoryMarkup: {
		".svg", ".tex", ".sgml", ".dtd", ".xhtml", ".jinja", ".j2", ".tmpl",
	},
	CategoryBinary: {
		".exe", ".dll", ".so", ".dylib", ".bin",
		".zip", ".tar", ".gz", ".bz2", ".xz", ".7z", ".rar",
		".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".ico",
		".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a",
		".mp4", ".avi", ".mkv", ".mov", ".webm", ".flv",
		".pdf", ".docx", ".xlsx", ".pptx", ".class", ".pyc", ".pyo", ".wasm",
	},
})

func buildExtensionCategories(byCategory map[string][]string) map[string]string {
	out := make(map[string]string)
	for category, exts := range byCategory {
		for _, ext := range exts {
			out[ext] = category
		}
	}
	return out
}

// languageMimeTypes はgo-enryが返す言語名とMIMEタイプの対応です
var languageMimeTypes = map[string]string{
	"Go":              "text/x-go",
	"JavaScript":      "text/javascript",
	"TypeScript":      "text/x-typescript",
	"Python":          "text/x-python",
	"Java":            "text/x-java",
	"C":               "text/x-c",
	"C++":             "text/x-c++",
	"C#":              "text/x-csharp",
	"Ruby":            "text/x-ruby",
	"PHP":             "text/x-php",
	"Rust":            "text/x-rust",
	"Swift":           "text/x-swift",
	"Kotlin":          "text/x-kotlin",
	"Scala":           "text/x-scala",
	"Shell":           "text/x-shellscript",
	"Bash":            "text/x-shellscript",
	"Markdown":        "text/markdown",
	"HTML":            "text/html",
	"CSS":             "text/css",
	"SCSS":            "text/x-scss",
	"SASS":            "text/x-sass",
	"Less":            "text/x-less",
	"JSON":            "application/json",
	"YAML":            "text/x-yaml",
	"XML":             "text/xml",
	"SQL":             "text/x-sql",
	"Dockerfile":      "text/x-dockerfile",
	"Makefile":        "text/x-makefile",
	"Protocol Buffer": "text/x-protobuf",
	"Thrift":          "text/x-thrift",
	"GraphQL":         "application/graphql",
	"Terraform":       "text/x-terraform",
	"HCL":             "text/x-hcl",
}

// languageToMimeType は言語名をMIMEタイプに変換します
func languageToMimeType(language string) string {
	return languageMimeTypes[language]
}
