package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestConversationMessage_JSONRoundTrip(t *testing.T) {
	msg := ConversationMessage{
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		Role:           RoleUser,
		Content:        "What's the weather in Hanoi?",
		Metadata:       map[string]any{"source": "api"},
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got ConversationMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.MessageID != msg.MessageID || got.ConversationID != msg.ConversationID {
		t.Errorf("ids did not round-trip: got %+v", got)
	}
	if got.Role != msg.Role || got.Content != msg.Content {
		t.Errorf("role/content did not round-trip: got %+v", got)
	}
	if !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, msg.CreatedAt)
	}
}

func TestToolCall_InputIsRawJSON(t *testing.T) {
	call := ToolCall{
		ID:    "call-1",
		Name:  "get_weather",
		Input: json.RawMessage(`{"location":"Hanoi"}`),
	}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got ToolCall
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got.Input) != string(call.Input) {
		t.Errorf("Input = %s, want %s", got.Input, call.Input)
	}
}

func TestToolResult_IsErrorDefaultsFalse(t *testing.T) {
	result := ToolResult{ToolCallID: "call-1", Content: "72F and sunny"}
	if result.IsError {
		t.Errorf("IsError = true, want false by default")
	}
}
