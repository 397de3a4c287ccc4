// Package main implements an offline mock LLM server. It answers
// OpenAI-compatible /v1/chat/completions requests with deterministic
// planner, validator, and analyzer responses derived from the request
// itself, so full migrations can run without credentials or network.
//
// Usage:
//
//	mock-llm -port 8089 [-fixtures /path/to/fixtures]
//
// When -fixtures is set, a request routed to role R is answered from
// R.json in that directory instead of the built-in responder. Numbered
// files (R.1.json, R.2.json, ...) are served in call order first, with
// R.json as the repeating fallback, which makes fail-then-pass retry
// loops scriptable.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type server struct {
	fixtureDir string

	mu    sync.Mutex
	calls map[string]int // per-role call counter for sequential fixtures
}

func main() {
	port := flag.Int("port", 8089, "listen port")
	fixtures := flag.String("fixtures", "", "optional fixture directory overriding built-in responders")
	flag.Parse()

	s := &server{fixtureDir: *fixtures, calls: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.handleCompletions)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock-llm listening on %s (fixtures: %q)", addr, *fixtures)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	role := classify(req.Messages)
	content := s.respond(role, req.Messages)

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     approxTokens(req.Messages),
			CompletionTokens: len(content) / 4,
			TotalTokens:      approxTokens(req.Messages) + len(content)/4,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// classify routes a request by its system prompt.
func classify(messages []chatMessage) string {
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		switch {
		case strings.Contains(m.Content, "upgrade planner"):
			return "planner"
		case strings.Contains(m.Content, "reviewing the result"):
			return "validator"
		case strings.Contains(m.Content, "diagnosing a failed"):
			return "analyzer"
		}
	}
	return "unknown"
}

func (s *server) respond(role string, messages []chatMessage) string {
	if s.fixtureDir != "" {
		if content, ok := s.fixture(role); ok {
			return content
		}
	}

	user := lastUserContent(messages)
	switch role {
	case "planner":
		return planResponse(user)
	case "validator":
		return verdictResponse(user)
	case "analyzer":
		return analysisResponse(user)
	default:
		return `{"note": "mock response"}`
	}
}

// fixture serves role.N.json in call order, then role.json repeatedly.
func (s *server) fixture(role string) (string, bool) {
	s.mu.Lock()
	s.calls[role]++
	n := s.calls[role]
	s.mu.Unlock()

	numbered := filepath.Join(s.fixtureDir, role+"."+strconv.Itoa(n)+".json")
	if data, err := os.ReadFile(numbered); err == nil {
		return string(data), true
	}
	base := filepath.Join(s.fixtureDir, role+".json")
	if data, err := os.ReadFile(base); err == nil {
		return string(data), true
	}
	return "", false
}

func lastUserContent(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func approxTokens(messages []chatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content) / 4
	}
	return n
}

// --- built-in responders ---

// depLine matches the planner prompt's dependency listing.
var depLine = regexp.MustCompile(`- (\S+): current "([^"]*)", latest (\S+)`)

type planDep struct {
	Name            string   `json:"name"`
	CurrentVersion  string   `json:"current_version"`
	TargetVersion   string   `json:"target_version"`
	Action          string   `json:"action"`
	Risk            string   `json:"risk"`
	BreakingChanges []string `json:"breaking_changes,omitempty"`
}

// planResponse upgrades every dependency with a known, different
// latest version. Major-version jumps are high risk.
func planResponse(user string) string {
	var deps []planDep
	var phases [][]string
	var low, high []string
	overall := "low"

	for _, m := range depLine.FindAllStringSubmatch(user, -1) {
		name, current, latest := m[1], m[2], m[3]
		d := planDep{Name: name, CurrentVersion: current, TargetVersion: current, Action: "keep", Risk: "low"}
		if latest != "unknown" && latest != current {
			d.Action = "upgrade"
			d.TargetVersion = latest
			if majorOf(latest) != majorOf(current) {
				d.Risk = "high"
				d.BreakingChanges = []string{"major version jump"}
				overall = "high"
				high = append(high, name)
			} else {
				low = append(low, name)
			}
		}
		deps = append(deps, d)
	}
	if len(low) > 0 {
		phases = append(phases, low)
	}
	if len(high) > 0 {
		phases = append(phases, high)
	}

	out, _ := json.Marshal(map[string]any{
		"dependencies": deps,
		"overall_risk": overall,
		"phases":       phases,
		"summary":      fmt.Sprintf("%d dependencies reviewed, %d upgrades proposed", len(deps), len(low)+len(high)),
	})
	return string(out)
}

func majorOf(version string) string {
	v := strings.TrimLeft(version, "^~=<>!")
	if i := strings.IndexByte(v, '.'); i > 0 {
		return v[:i]
	}
	return v
}

// verdictResponse reads the serialized validation outcome embedded in
// the prompt.
func verdictResponse(user string) string {
	var outcome struct {
		BuildOK   bool `json:"build_ok"`
		InstallOK bool `json:"install_ok"`
		RuntimeOK bool `json:"runtime_ok"`
		HealthOK  bool `json:"health_ok"`
		Tests     struct {
			Ran    bool `json:"ran"`
			Passed bool `json:"passed"`
		} `json:"tests"`
	}
	if i := strings.IndexByte(user, '{'); i >= 0 {
		_ = json.Unmarshal([]byte(user[i:]), &outcome)
	}

	ok := outcome.BuildOK && outcome.InstallOK && outcome.RuntimeOK && outcome.HealthOK &&
		(!outcome.Tests.Ran || outcome.Tests.Passed)
	if ok {
		return `{"verdict": "proceed", "reasons": ["all validation stages passed"]}`
	}
	out, _ := json.Marshal(map[string]any{
		"verdict": "fix",
		"reasons": []string{"one or more validation stages failed"},
	})
	return string(out)
}

// upgradeLine matches the analyzer prompt's attempted-upgrade listing.
var upgradeLine = regexp.MustCompile(`- (\S+): (\S+) -> (\S+)`)

// analysisResponse categorizes by log markers and suggests retrying
// the first attempted upgrade one major version lower.
func analysisResponse(user string) string {
	lower := strings.ToLower(user)
	category := "unknown"
	switch {
	case strings.Contains(lower, "peer dep"), strings.Contains(lower, "eresolve"):
		category = "peer_dependency_conflict"
	case strings.Contains(lower, "is not a function"), strings.Contains(lower, "typeerror"):
		category = "type_error"
	case strings.Contains(lower, "cannot find module"), strings.Contains(lower, "modulenotfounderror"):
		category = "missing_dependency"
	case strings.Contains(lower, "has no attribute"):
		category = "api_breaking_change"
	case strings.Contains(lower, "npm err!"), strings.Contains(lower, "error:"):
		category = "install_failure"
	}

	var suggestions []map[string]string
	if m := upgradeLine.FindStringSubmatch(user); m != nil {
		name, target := m[1], m[3]
		if prev := previousMajor(target); prev != "" {
			suggestions = append(suggestions, map[string]string{
				"package":      name,
				"from_version": target,
				"to_version":   prev,
				"priority":     "high",
				"rationale":    "previous major is the newest version predating the failure",
			})
		}
	}

	out, _ := json.Marshal(map[string]any{
		"category":    category,
		"root_cause":  "validation failed after the attempted upgrade",
		"suggestions": suggestions,
		"confidence":  "medium",
		"recoverable": len(suggestions) > 0,
	})
	return string(out)
}

func previousMajor(version string) string {
	major := majorOf(version)
	n, err := strconv.Atoi(major)
	if err != nil || n <= 0 {
		return ""
	}
	return fmt.Sprintf("%d.0.0", n-1)
}
