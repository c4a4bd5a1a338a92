package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// EmbeddingSourceInput はEmbedding元テキストの生成に必要な情報です
type EmbeddingSourceInput struct {
	Path           string
	RepositoryName string
	Analysis       *Analysis
}

// RenderEmbeddingSource は解析結果からEmbedding対象テキストを組み立てます
// 副作用のない純粋関数で、出力形式は固定です
func RenderEmbeddingSource(in EmbeddingSourceInput) string {
	a := in.Analysis
	if a == nil {
		a = &Analysis{}
	}

	var b strings.Builder
	writeLine := func(label, value string) {
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}

	writeLine("Filename", filepath.Base(in.Path))
	writeLine("Filepath", in.Path)
	writeLine("Repository", in.RepositoryName)
	b.WriteString("\n")
	writeLine("Title", orDefault(a.Title, "No title"))
	b.WriteString("\n")
	writeLine("Summary", orDefault(a.Summary, "No summary"))
	b.WriteString("\n")
	writeLine("Key Concepts", strings.Join(a.KeyConcepts, ", "))
	writeLine("Potential Questions", strings.Join(a.PotentialQuestions, " "))
	writeLine("Keywords", strings.Join(a.Keywords, ", "))
	writeLine("Document Type", orDefault(a.DocumentType, FallbackDocumentType))
	writeLine("Technical Level", orDefault(a.TechnicalLevel, FallbackTechnicalLevel))
	writeLine("Related Topics", strings.Join(a.RelatedTopics, ", "))
	writeLine("Prerequisites", strings.Join(a.Prerequisites, ", "))

	if len(a.CodeSnippets) > 0 {
		b.WriteString("\nCode Snippets:\n")
		for i, s := range a.CodeSnippets {
			fmt.Fprintf(&b, "Snippet %d (%s): %s\n%s\n", i+1, orDefault(s.Language, "unknown"), s.Purpose, s.Summary)
		}
		if a.CodeSnippetsOverview != "" {
			b.WriteString("\n")
			writeLine("Code Snippets Overview", a.CodeSnippetsOverview)
		}
	}

	if cp := a.ComponentProperties; cp != nil {
		b.WriteString("\n")
		writeLine("Component Type", orDefault(cp.ComponentType, "Unknown"))
		writeLine("API Elements", strings.Join(cp.APIElements, ", "))
		writeLine("Required Parameters", strings.Join(cp.RequiredParameters, ", "))
		writeLine("Optional Parameters", strings.Join(cp.OptionalParameters, ", "))
		writeLine("Related Components", strings.Join(cp.RelatedComponents, ", "))
	}

	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
