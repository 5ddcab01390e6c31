package llm

import (
	"encoding/json"
	"testing"

	"interject"
)

func TestBuildBody(t *testing.T) {
	req := interject.LLMRequest{
		Model:        "gpt-4o-mini",
		Instructions: "decide yes or no",
		History: []interject.Turn{
			interject.UserTurn("alice: hi"),
			interject.AssistantTurn("hey"),
		},
		Input: "alice: what do you think?",
	}

	body := buildBody(req)

	if body.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", body.Model)
	}
	if body.Instructions != "decide yes or no" {
		t.Errorf("Instructions = %q", body.Instructions)
	}
	if len(body.Input) != 3 {
		t.Fatalf("len(Input) = %d, want 3", len(body.Input))
	}
	want := []inputItem{
		{Role: "user", Content: "alice: hi"},
		{Role: "assistant", Content: "hey"},
		{Role: "user", Content: "alice: what do you think?"},
	}
	for i, item := range body.Input {
		if item != want[i] {
			t.Errorf("Input[%d] = %+v, want %+v", i, item, want[i])
		}
	}
}

func TestBuildBodyNoHistory(t *testing.T) {
	body := buildBody(interject.LLMRequest{Model: "m", Input: "hello"})
	if len(body.Input) != 1 {
		t.Fatalf("len(Input) = %d, want 1", len(body.Input))
	}
	if body.Input[0].Role != "user" || body.Input[0].Content != "hello" {
		t.Errorf("Input[0] = %+v", body.Input[0])
	}
}

func TestBodyWireShape(t *testing.T) {
	data, err := json.Marshal(buildBody(interject.LLMRequest{
		Model:        "m",
		Instructions: "sys",
		Input:        "hi",
	}))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	want := `{"model":"m","instructions":"sys","input":[{"role":"user","content":"hi"}]}`
	if got != want {
		t.Errorf("wire body = %s, want %s", got, want)
	}
}
