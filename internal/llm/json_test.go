package llm

import "testing"

func TestExtractJSONObject(t *testing.T) {
	got, err := ExtractJSON("Here is the result:\n```json\n{\"ok\": true}\n```\nDone.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"ok": true}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONArray(t *testing.T) {
	got, err := ExtractJSON(`The tasks are: [{"id": 1}, {"id": 2}] as requested.`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `[{"id": 1}, {"id": 2}]` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONArrayBeforeObject(t *testing.T) {
	got, err := ExtractJSON(`[{"id": 1}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `[{"id": 1}]` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONNone(t *testing.T) {
	if _, err := ExtractJSON("I could not produce a plan, sorry."); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}
