package genai

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Parser extracts structured fields from model completions with jq queries.
// Models wrap JSON in markdown fences often enough that both forms are
// accepted. Thread-safe: compiled *gojq.Code objects are cached and reused.
type Parser struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewParser creates a Parser with an empty query cache.
func NewParser() *Parser {
	return &Parser{cache: make(map[string]*gojq.Code)}
}

// ExtractDraft pulls title and content from a draft or revision completion.
func (p *Parser) ExtractDraft(raw string) (title, content string, err error) {
	doc, err := p.decode(raw)
	if err != nil {
		return "", "", err
	}
	titleVal, err := p.queryOne(".title // empty", doc)
	if err != nil {
		return "", "", err
	}
	contentVal, err := p.queryOne(".content // empty", doc)
	if err != nil {
		return "", "", err
	}
	content, _ = contentVal.(string)
	if strings.TrimSpace(content) == "" {
		return "", "", schema.NewError(schema.ErrCodeGeneration, "completion has no content field")
	}
	title, _ = titleVal.(string)
	return title, content, nil
}

// ExtractOutline pulls the outline text from an outline completion.
func (p *Parser) ExtractOutline(raw string) (string, error) {
	doc, err := p.decode(raw)
	if err != nil {
		return "", err
	}
	val, err := p.queryOne(".outline // empty", doc)
	if err != nil {
		return "", err
	}
	outline, _ := val.(string)
	if strings.TrimSpace(outline) == "" {
		return "", schema.NewError(schema.ErrCodeGeneration, "completion has no outline field")
	}
	return outline, nil
}

// ExtractScores pulls per-dimension scores from a scoring completion. Every
// requested dimension must be present and numeric; range checking is the
// caller's contract.
func (p *Parser) ExtractScores(raw string, dims []quality.Dimension) (map[quality.Dimension]float64, error) {
	doc, err := p.decode(raw)
	if err != nil {
		return nil, err
	}
	val, err := p.queryOne(".scores // empty", doc)
	if err != nil {
		return nil, err
	}
	scoreMap, ok := val.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeAssessment, "completion has no scores object")
	}

	out := make(map[quality.Dimension]float64, len(dims))
	for _, d := range dims {
		v, ok := scoreMap[string(d)]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeAssessment, "score missing for dimension %s", d)
		}
		num, ok := v.(float64)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeAssessment, "score for dimension %s is not numeric (got %T)", d, v)
		}
		out[d] = num
	}
	return out, nil
}

// decode strips markdown fences and unmarshals the completion into a JSON value.
func (p *Parser) decode(raw string) (any, error) {
	cleaned := stripFences(raw)
	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGeneration,
			"completion is not valid JSON: %s", err.Error()).WithCause(err)
	}
	return doc, nil
}

// queryOne runs a jq query expected to produce at most one value.
func (p *Parser) queryOne(query string, doc any) (any, error) {
	code, err := p.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	iter := code.Run(doc)
	val, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if qerr, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeGeneration,
			"jq evaluation failed for %q: %s", query, qerr.Error()).WithCause(qerr)
	}
	return val, nil
}

// getOrCompile returns a cached compiled query or compiles and caches a new one.
func (p *Parser) getOrCompile(query string) (*gojq.Code, error) {
	p.mu.RLock()
	if code, ok := p.cache[query]; ok {
		p.mu.RUnlock()
		return code, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := p.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", query, err.Error()).WithCause(err)
	}

	p.cache[query] = code
	return code, nil
}

// stripFences removes a wrapping markdown code fence if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line (```json).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
