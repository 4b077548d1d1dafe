package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/schema"
)

const defaultProviderBaseURL = "https://api.openai.com/v1"

type chatProxyRequest struct {
	Messages []json.RawMessage `json:"messages"`
	Model    string            `json:"model,omitempty"`
	APIKey   string            `json:"apiKey,omitempty"`
	BaseURL  string            `json:"baseUrl,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// handleChatProxy relays a chat completion to an OpenAI-compatible provider
// and streams the assistant text back as plain text.
func (s *Server) handleChatProxy(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var req chatProxyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("api key is required"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("messages are required"))
		return
	}
	model := req.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}

	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": req.Messages,
		"stream":   true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	url := providerBaseURL(req.BaseURL) + "/chat/completions"
	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	upstream.Header.Set("Authorization", "Bearer "+apiKey)
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(upstream)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4000))
		writeError(w, http.StatusBadGateway, "provider_error", fmt.Errorf("provider returned %d: %s", resp.StatusCode, detail))
		return
	}

	logx.Ctx(r.Context()).Debug("chat proxy streaming", "user", userID, "model", model)
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if _, err := io.WriteString(w, chunk.Choices[0].Delta.Content); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type modelsProxyRequest struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// handleProxyModels relays the provider's model listing.
func (s *Server) handleProxyModels(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var req modelsProxyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("base url is required"))
		return
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	upstream, err := retryablehttp.NewRequestWithContext(r.Context(), http.MethodGet, strings.TrimRight(baseURL, "/")+"/models", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if apiKey != "" {
		upstream.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(upstream)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4000))
		writeError(w, resp.StatusCode, "provider_error", fmt.Errorf("provider returned %d: %s", resp.StatusCode, detail))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}

func providerBaseURL(base string) string {
	if base == "" {
		base = os.Getenv("OPENAI_BASE_URL")
	}
	if base == "" {
		return defaultProviderBaseURL
	}
	return strings.TrimRight(base, "/")
}
