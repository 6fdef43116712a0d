package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	if len(tools) == 0 {
		t.Fatal("GetToolDefinitions returned empty slice")
	}

	expectedTools := []string{
		"regions_validate",
		"regions_lookup",
		"snippets_extract",
		"snippet_crop",
		"regions_preview",
		"labelme_convert",
		"manifest_runs",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		if _, dup := toolMap[tool.Name]; dup {
			t.Errorf("Tool %s defined twice", tool.Name)
		}
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		if _, ok := toolMap[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("got %d tools, want %d", len(tools), len(expectedTools))
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}

			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}
			required, ok := tool.InputSchema["required"].([]string)
			if !ok || len(required) == 0 {
				t.Fatal("InputSchema should list required fields")
			}
			// every required field must be a declared property
			for _, field := range required {
				if _, ok := props[field]; !ok {
					t.Errorf("required field %s is not a property", field)
				}
			}
		})
	}
}

func TestToolDefinitions_AllDispatched(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			_, err := s.executeTool(context.Background(), tool.Name, json.RawMessage(`{}`))
			if err != nil && strings.Contains(err.Error(), "unknown tool") {
				t.Errorf("tool %s has no handler", tool.Name)
			}
		})
	}
}
