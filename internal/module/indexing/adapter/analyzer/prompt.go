package analyzer

import (
	"fmt"
	"strings"
)

const (
	// AnalysisTemperature は構造化解析の温度設定
	AnalysisTemperature = 0.2

	// AnalysisMaxTokens は生成する最大トークン数
	AnalysisMaxTokens = 8192

	// maxReadmeChars はREADMEコンテキストの最大文字数
	maxReadmeChars = 15000

	// maxContentChars はREADMEが無い場合のファイル内容の最大文字数
	maxContentChars = 60000

	// maxContentCharsWithReadme はREADMEがある場合のファイル内容の最大文字数
	maxContentCharsWithReadme = 45000
)

const analysisInstructions = `# Analysis Instructions:

## Document Analysis:
- Use the repository context (if provided) to better understand the project's purpose and architecture
- Analyze the content to identify the key components, patterns, and architecture
- For code files, identify the programming paradigms, design patterns, and architecture
- Note dependencies and relationships between components

## Title Creation:
- Create a concise title that clearly indicates the document's purpose
- Format consistently with naming conventions
- Include specific class/function names if it's code

## Semantic Summary Generation:
- Create a comprehensive summary (250-400 words) that captures the semantic essence of the document
- Use the repository context to explain how this code or content fits into the broader project architecture
- For code files, describe its purpose, when to use it, and how it differs from similar components
- Include specific class names, method signatures, parameter names, and return types where relevant

## Key Concepts Extraction:
- Identify 5-10 core concepts discussed in the document
- Include both explicit concepts (mentioned by name) and implicit concepts

## Potential Questions Generation:
- Generate 8-12 natural language questions that this document would answer
- Include different query formulations that developers might use

## Code Snippet Analysis:
- Extract all code examples with their context
- For each snippet, identify:
  - The language
  - What the code demonstrates
  - Key classes, methods, and parameters used
  - Expected output or behavior

## Component Properties Extraction:
- Identify the component type
- Document key API elements (classes, functions, methods, parameters)
- List required and optional elements
- Note interactions with other components

## Keyword Extraction:
- Extract 15-20 keywords that represent important technical terms
- Include specific class names, parameter names, and method names
`

const responseFormat = `# Response Format:
Return a single valid JSON object with the following structure:
{
  "title": "string",
  "summary": "string",
  "key_concepts": ["string"],
  "potential_questions": ["string"],
  "code_snippets": [{"language": "string", "purpose": "string", "code": "string", "summary": "string"}],
  "code_snippets_overview": "string",
  "snippet_count": 0,
  "component_properties": {
    "component_type": "string",
    "api_elements": ["string"],
    "required_parameters": ["string"],
    "optional_parameters": ["string"],
    "related_components": ["string"]
  },
  "keywords": ["string"],
  "related_topics": ["string"],
  "document_type": "string",
  "technical_level": "string",
  "prerequisites": ["string"]
}
"document_type" and "technical_level" are required.`

// analysisPrompt は構築したプロンプトと切り詰めの有無です
type analysisPrompt struct {
	Text             string
	ReadmeTruncated  bool
	ContentTruncated bool
}

// buildAnalysisPrompt は解析プロンプトを構築します
// READMEがある場合はファイル内容の上限を下げてREADMEの分を確保します
func buildAnalysisPrompt(content, readme string) analysisPrompt {
	var p analysisPrompt

	readme = strings.TrimSpace(readme)
	limit := maxContentChars
	var readmeSection string
	if readme != "" {
		readme, p.ReadmeTruncated = truncateRunes(readme, maxReadmeChars)
		readmeSection = fmt.Sprintf("\n# Repository Context (from README):\n%s\n\n", readme)
		limit = maxContentCharsWithReadme
	}

	content, p.ContentTruncated = truncateRunes(content, limit)

	var b strings.Builder
	b.WriteString("\n# Analysis Task\n")
	b.WriteString(readmeSection)
	b.WriteString("Analyze the following file content and provide comprehensive structured information according to the instructions below:\n\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(analysisInstructions)
	b.WriteString("\n")
	b.WriteString(responseFormat)
	b.WriteString("\n")

	p.Text = b.String()
	return p
}

// truncateRunes は文字数（rune単位）でsを切り詰めます
func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}
