package llmutil

import (
	"testing"
)

func TestStripMarkdownJSON_CleanJSON(t *testing.T) {
	input := `{"name": "test", "value": 42}`
	got, err := StripMarkdownJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestStripMarkdownJSON_JSONFenced(t *testing.T) {
	input := "```json\n{\"name\": \"test\"}\n```"
	got, err := StripMarkdownJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"name": "test"}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripMarkdownJSON_LeadingText(t *testing.T) {
	input := "Here is the result:\n{\"name\": \"test\"}"
	got, err := StripMarkdownJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"name": "test"}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripMarkdownJSON_Array(t *testing.T) {
	got, err := StripMarkdownJSON("```\n[1, 2]\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "[1, 2]" {
		t.Errorf("got %q", got)
	}
}

func TestStripMarkdownJSON_NoJSON(t *testing.T) {
	_, err := StripMarkdownJSON("no json here")
	if err == nil {
		t.Fatal("expected error for text without JSON")
	}
}

func TestStripMarkdownJSON_LeadingTemplateText(t *testing.T) {
	input := "Use {{input}} as the source.\n{\"ok\": true}"
	got, err := StripMarkdownJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"ok": true}` {
		t.Errorf("got %q", got)
	}
}

func TestDecodeJSON_TrailingProse(t *testing.T) {
	v, err := DecodeJSON("Sure!\n{\"title\": \"x\"}\nLet me know if you need more.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["title"] != "x" {
		t.Fatalf("got %#v", v)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	if _, err := DecodeJSON(`{"title": `); err == nil {
		t.Fatal("expected decode error")
	}
}
