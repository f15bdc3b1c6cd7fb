package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "azprofile.yaml")
	content := fmt.Sprintf("storage:\n  driver: sqlite\n  path: %s\n", filepath.Join(dir, "profiles.db"))
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return configPath
}

func TestRunProfileSetShowDelete(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{
		"set", "work",
		"--config", configPath,
		"--endpoint", "https://contoso.openai.azure.com",
		"--api-key", "secret",
		"--chat-deployment", "gpt4-chat",
	}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("profile set code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `profile "work" saved`) {
		t.Fatalf("stdout=%q, want saved message", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = runProfile([]string{"show", "work", "--config", configPath, "--format", "json"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("profile show code=%d, stderr=%q", code, stderr.String())
	}
	var shown struct {
		Name           string `json:"name"`
		Endpoint       string `json:"endpoint"`
		APIKey         string `json:"api_key"`
		ChatDeployment string `json:"chat_deployment"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &shown); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if shown.Endpoint != "https://contoso.openai.azure.com" {
		t.Fatalf("endpoint=%q", shown.Endpoint)
	}
	if shown.ChatDeployment != "gpt4-chat" {
		t.Fatalf("chat_deployment=%q", shown.ChatDeployment)
	}
	if shown.APIKey != "(redacted)" {
		t.Fatalf("api_key=%q, want redacted", shown.APIKey)
	}

	stdout.Reset()
	stderr.Reset()
	code = runProfile([]string{"delete", "work", "--config", configPath}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("profile delete code=%d, stderr=%q", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = runProfile([]string{"show", "work", "--config", configPath}, nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("profile show after delete code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "not found") {
		t.Fatalf("stderr=%q, want not-found message", stderr.String())
	}
}

func TestRunProfileSetPreservesUnsetFields(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{
		"set", "work",
		"--config", configPath,
		"--endpoint", "https://contoso.openai.azure.com",
		"--api-key", "secret",
	}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("first set code=%d, stderr=%q", code, stderr.String())
	}

	stdout.Reset()
	code = runProfile([]string{
		"set", "work",
		"--config", configPath,
		"--chat-deployment", "gpt4-chat",
	}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("second set code=%d, stderr=%q", code, stderr.String())
	}

	stdout.Reset()
	code = runProfile([]string{"show", "work", "--config", configPath, "--format", "json"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("show code=%d, stderr=%q", code, stderr.String())
	}
	var shown struct {
		Endpoint       string `json:"endpoint"`
		ChatDeployment string `json:"chat_deployment"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &shown); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if shown.Endpoint != "https://contoso.openai.azure.com" {
		t.Fatalf("endpoint=%q, want preserved", shown.Endpoint)
	}
	if shown.ChatDeployment != "gpt4-chat" {
		t.Fatalf("chat_deployment=%q", shown.ChatDeployment)
	}
}

func TestRunProfileList(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{"list", "--config", configPath}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("empty list code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "no profiles stored") {
		t.Fatalf("stdout=%q, want empty-list message", stdout.String())
	}

	code = runProfile([]string{
		"set", "work",
		"--config", configPath,
		"--endpoint", "https://contoso.openai.azure.com",
	}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("set code=%d, stderr=%q", code, stderr.String())
	}

	stdout.Reset()
	code = runProfile([]string{"list", "--config", configPath}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("list code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "work") {
		t.Fatalf("stdout=%q, want profile name", stdout.String())
	}
	if !strings.Contains(stdout.String(), "contoso.openai.azure.com") {
		t.Fatalf("stdout=%q, want endpoint", stdout.String())
	}
}

func TestRunProfilePasteMergesIntoStore(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{"paste", "work", "--config", configPath, sampleChatURL}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("paste code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `profile "work" updated`) {
		t.Fatalf("stdout=%q, want updated message", stdout.String())
	}

	stdout.Reset()
	code = runProfile([]string{"show", "work", "--config", configPath, "--format", "json"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("show code=%d, stderr=%q", code, stderr.String())
	}
	var shown struct {
		Endpoint       string `json:"endpoint"`
		ChatDeployment string `json:"chat_deployment"`
		ChatAPIVersion string `json:"chat_api_version"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &shown); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if shown.Endpoint != "https://contoso.openai.azure.com" {
		t.Fatalf("endpoint=%q", shown.Endpoint)
	}
	if shown.ChatDeployment != "gpt4-chat" {
		t.Fatalf("chat_deployment=%q", shown.ChatDeployment)
	}
	if shown.ChatAPIVersion != "2024-02-15-preview" {
		t.Fatalf("chat_api_version=%q", shown.ChatAPIVersion)
	}
}

func TestRunProfilePasteNoMatchExitsOne(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t)

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{"paste", "work", "--config", configPath, "meeting", "notes"}, nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("paste code=%d, want 1", code)
	}
	if !strings.Contains(stdout.String(), `profile "work" unchanged`) {
		t.Fatalf("stdout=%q, want unchanged message", stdout.String())
	}
}

func TestRunProfileUnknownSubcommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{"frobnicate"}, nil, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("stderr=%q, want usage", stderr.String())
	}
}

func TestRunProfileSetRequiresName(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runProfile([]string{"set", "--endpoint", "https://contoso.openai.azure.com"}, nil, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
}
