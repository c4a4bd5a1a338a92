package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// FallbackDocumentType / FallbackTechnicalLevel は合成解析で使うプレースホルダです
	FallbackDocumentType   = "Unknown"
	FallbackTechnicalLevel = "Unknown"
)

// CodeSnippet は解析結果に含まれるコード例です
type CodeSnippet struct {
	Language string `json:"language"`
	Purpose  string `json:"purpose"`
	Code     string `json:"code"`
	Summary  string `json:"summary"`
}

// ComponentProperties はコンポーネントのAPI要素です
type ComponentProperties struct {
	ComponentType      string   `json:"component_type"`
	APIElements        []string `json:"api_elements"`
	RequiredParameters []string `json:"required_parameters"`
	OptionalParameters []string `json:"optional_parameters"`
	RelatedComponents  []string `json:"related_components"`
}

// Analysis は解析プロバイダが返す構造化解析です
// 未知のフィールドはExtraに保持され、ラウンドトリップで失われません
type Analysis struct {
	Title                string               `json:"title"`
	Summary              string               `json:"summary"`
	KeyConcepts          []string             `json:"key_concepts"`
	Keywords             []string             `json:"keywords"`
	DocumentType         string               `json:"document_type"`
	TechnicalLevel       string               `json:"technical_level"`
	PotentialQuestions   []string             `json:"potential_questions"`
	RelatedTopics        []string             `json:"related_topics"`
	Prerequisites        []string             `json:"prerequisites"`
	CodeSnippets         []CodeSnippet        `json:"code_snippets,omitempty"`
	CodeSnippetsOverview string               `json:"code_snippets_overview,omitempty"`
	ComponentProperties  *ComponentProperties `json:"component_properties,omitempty"`

	// UsedFallbackAnalysis は全リトライ失敗後の合成解析であることを示します
	UsedFallbackAnalysis bool `json:"used_fallback_analysis,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownAnalysisFields = map[string]struct{}{
	"title": {}, "summary": {}, "key_concepts": {}, "keywords": {},
	"document_type": {}, "technical_level": {}, "potential_questions": {},
	"related_topics": {}, "prerequisites": {}, "code_snippets": {},
	"code_snippets_overview": {}, "component_properties": {},
	"used_fallback_analysis": {},
}

type analysisAlias Analysis

// MarshalJSON はExtraを既知フィールドと同じ階層に展開します
func (a Analysis) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(analysisAlias(a))
	if err != nil {
		return nil, err
	}
	if len(a.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(a.Extra)+len(knownAnalysisFields))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, known := knownAnalysisFields[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extra field %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON は既知フィールドを構造体へ、それ以外をExtraへ振り分けます
func (a *Analysis) UnmarshalJSON(data []byte) error {
	var alias analysisAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = Analysis(alias)
	for k, v := range raw {
		if _, known := knownAnalysisFields[k]; known {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = v
	}
	return nil
}

// Validate はプロバイダ境界で必須フィールドを検証します
func (a *Analysis) Validate() error {
	var missing []string
	if strings.TrimSpace(a.DocumentType) == "" {
		missing = append(missing, "document_type")
	}
	if strings.TrimSpace(a.TechnicalLevel) == "" {
		missing = append(missing, "technical_level")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}
	return nil
}

// Tags はkeywords・key_concepts・related_topicsの和集合をソートして返します
func (a *Analysis) Tags() []string {
	seen := make(map[string]struct{})
	for _, group := range [][]string{a.Keywords, a.KeyConcepts, a.RelatedTopics} {
		for _, tag := range group {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			seen[tag] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// FallbackAnalysis はファイル名から最小限の合成解析を作成します
func FallbackAnalysis(path string) *Analysis {
	return &Analysis{
		Title:                fmt.Sprintf("File: %s", filepath.Base(path)),
		Summary:              fmt.Sprintf("Content from %s", path),
		KeyConcepts:          []string{},
		Keywords:             []string{},
		DocumentType:         FallbackDocumentType,
		TechnicalLevel:       FallbackTechnicalLevel,
		PotentialQuestions:   []string{},
		RelatedTopics:        []string{},
		Prerequisites:        []string{},
		UsedFallbackAnalysis: true,
	}
}
