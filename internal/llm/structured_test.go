package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStructuredJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain object", `{"a": 1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a":1}`, false},
		{"fence without language", "```\n[1, 2]\n```", `[1,2]`, false},
		{"prose around object", `Here is the plan: {"a": 1} hope it helps`, `{"a":1}`, false},
		{"array in prose", `result [1, 2, 3] done`, `[1,2,3]`, false},
		{"empty", "", "", true},
		{"no json at all", "just words", "", true},
		{"broken json", `{"a": `, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStructuredJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStructuredJSON(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && string(got) != tt.want {
				t.Errorf("ParseStructuredJSON(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateStructuredJSON(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["score"],
		"properties": {"score": {"type": "number"}}
	}`)

	if err := ValidateStructuredJSON(schema, json.RawMessage(`{"score": 7}`)); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
	if err := ValidateStructuredJSON(schema, json.RawMessage(`{"score": "high"}`)); err == nil {
		t.Error("wrong type accepted")
	}
	if err := ValidateStructuredJSON(schema, json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field accepted")
	}
	// Nil schema skips validation entirely.
	if err := ValidateStructuredJSON(nil, json.RawMessage(`"anything"`)); err != nil {
		t.Errorf("nil schema should accept anything: %v", err)
	}
}

func TestChatJSONRepairsBadOutput(t *testing.T) {
	mock := &MockClient{Responses: []MockResponse{
		{Content: "sorry, no json here"},
		{Content: `{"score": 4}`},
	}}

	var out struct {
		Score float64 `json:"score"`
	}
	err := ChatJSON(context.Background(), mock, &ChatRequest{
		Messages: []Message{{Role: "user", Content: "rate it"}},
		Model:    "test-model",
	}, nil, &out)
	if err != nil {
		t.Fatalf("ChatJSON() error = %v", err)
	}
	if out.Score != 4 {
		t.Errorf("score = %f, want 4", out.Score)
	}
	if mock.CallCount() != 2 {
		t.Errorf("expected a single repair round trip, got %d calls", mock.CallCount())
	}
	// The repair request carries the failed output back to the model.
	repair := mock.Calls[1]
	if len(repair.Messages) != 3 || repair.Messages[1].Content != "sorry, no json here" {
		t.Errorf("repair request malformed: %+v", repair.Messages)
	}
}

func TestChatJSONGivesUpAfterRepair(t *testing.T) {
	mock := &MockClient{Default: "still not json"}

	var out map[string]any
	err := ChatJSON(context.Background(), mock, &ChatRequest{
		Messages: []Message{{Role: "user", Content: "rate it"}},
		Model:    "test-model",
	}, nil, &out)
	if !errors.Is(err, ErrBadFormat) {
		t.Fatalf("error = %v, want ErrBadFormat", err)
	}
	if mock.CallCount() != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", mock.CallCount())
	}
}

func TestChatJSONEnforcesSchemaOnFirstPass(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["beats"],
		"properties": {"beats": {"type": "array"}}
	}`)
	mock := &MockClient{Responses: []MockResponse{
		{Content: `{"beats": "not an array"}`},
		{Content: `{"beats": ["one"]}`},
	}}

	var out struct {
		Beats []string `json:"beats"`
	}
	err := ChatJSON(context.Background(), mock, &ChatRequest{
		Messages: []Message{{Role: "user", Content: "plan"}},
		Model:    "test-model",
	}, schema, &out)
	if err != nil {
		t.Fatalf("ChatJSON() error = %v", err)
	}
	if len(out.Beats) != 1 || out.Beats[0] != "one" {
		t.Errorf("beats = %v", out.Beats)
	}
}
