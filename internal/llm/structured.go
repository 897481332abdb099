package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseStructuredJSON parses JSON from model output, with lightweight
// recovery for markdown code fences and surrounding text.
func ParseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}

	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && arrayStart >= 0:
		if objectStart < arrayStart {
			start = objectStart
			closeChar = "}"
		} else {
			start = arrayStart
			closeChar = "]"
		}
	case objectStart >= 0:
		start = objectStart
		closeChar = "}"
	case arrayStart >= 0:
		start = arrayStart
		closeChar = "]"
	default:
		return ""
	}

	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// ValidateStructuredJSON validates parsed JSON against the canonical schema.
func ValidateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 || len(parsed) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return fmt.Errorf("failed to load structured schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile structured schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

// repairPrompt asks the model to fix its previous output.
func repairPrompt(schemaRaw json.RawMessage, lastOutput string, issue error) string {
	schemaText := string(schemaRaw)
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > 12000 {
		lastOutput = lastOutput[:12000] + "\n...[truncated]"
	}

	return fmt.Sprintf(`Return ONLY valid JSON (no markdown, no commentary) that strictly conforms to this schema.

Schema:
%s

Your previous output:
%s

Validation issue:
%v`, schemaText, lastOutput, issue)
}

// ChatJSON performs a chat call expecting a JSON object conforming to schema
// (schema may be nil for free-form json_object mode) and decodes it into out.
//
// On parse/validation failure the call is retried once with a reinforced
// repair prompt. If the second attempt also fails, ErrBadFormat is returned
// so the caller can downgrade to an empty payload.
func ChatJSON(ctx context.Context, client Client, req *ChatRequest, schema json.RawMessage, out any) error {
	if req.ResponseFormat == nil {
		req.ResponseFormat = &ResponseFormat{Type: "json_object", JSONSchema: schema}
	}

	res, err := client.Chat(ctx, req)
	if err != nil {
		return err
	}

	_, issue := decodeAgainst(res, schema, out)
	if issue == nil {
		return nil
	}

	// One repair attempt with a reinforced prompt.
	repairReq := &ChatRequest{
		Messages: append(append([]Message{}, req.Messages...),
			Message{Role: "assistant", Content: res.Content},
			Message{Role: "user", Content: repairPrompt(schema, res.Content, issue)},
		),
		Model:          req.Model,
		Temperature:    0,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	}
	res, err = client.Chat(ctx, repairReq)
	if err != nil {
		return err
	}
	if _, issue = decodeAgainst(res, schema, out); issue != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, issue)
	}
	return nil
}

func decodeAgainst(res *ChatResult, schema json.RawMessage, out any) (json.RawMessage, error) {
	parsed := res.ParsedJSON
	if len(parsed) == 0 {
		var err error
		parsed, err = ParseStructuredJSON(res.Content)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidateStructuredJSON(schema, parsed); err != nil {
		return parsed, err
	}
	if err := json.Unmarshal(parsed, out); err != nil {
		return parsed, fmt.Errorf("failed to decode structured JSON: %w", err)
	}
	return parsed, nil
}
