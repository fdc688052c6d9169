package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Source is one citation returned by a web search.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// WebSearchOptions configures the OpenRouter-backed web search capability.
type WebSearchOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxResults int
	HTTPClient *http.Client
}

// WebSearch performs real-time web search through OpenRouter's native web
// plugin: the query is sent as a chat completion with the "web" plugin
// enabled and citations are read back from the message annotations.
type WebSearch struct {
	baseURL    string
	apiKey     string
	model      string
	maxResults int
	httpClient *http.Client
}

// NewWebSearch constructs the web search capability.
func NewWebSearch(apiKey string, optFns ...func(o *WebSearchOptions)) *WebSearch {
	opts := WebSearchOptions{
		BaseURL:    "https://openrouter.ai/api/v1",
		APIKey:     apiKey,
		Model:      "anthropic/claude-sonnet-4.5",
		MaxResults: 5,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &WebSearch{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxResults: opts.MaxResults,
		httpClient: opts.HTTPClient,
	}
}

// Descriptor returns the machine-readable description registered for this capability.
func (w *WebSearch) Descriptor() Descriptor {
	return Descriptor{
		Name:        WebSearchName,
		Description: "Search the web for current information. Use this when you need recent news, events, prices, or facts that might not be in your training data.",
		Parameters: []Parameter{
			{Name: "query", Description: "The search query to look up", Required: true},
			{Name: "max_results", Description: "Maximum number of search results (1-10, default 5)", Required: false},
		},
	}
}

// Func adapts the capability to the registry's Func signature.
func (w *WebSearch) Func() Func {
	return func(ctx context.Context, params map[string]string) (Result, error) {
		maxResults := w.maxResults
		if raw, ok := params["max_results"]; ok && raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 10 {
				maxResults = n
			}
		}
		content, sources, err := w.Search(ctx, params["query"], maxResults)
		if err != nil {
			return nil, err
		}
		return TextResult{Content: content, SourceCount: len(sources)}, nil
	}
}

type searchRequest struct {
	Model    string          `json:"model"`
	Messages []searchMessage `json:"messages"`
	Plugins  []searchPlugin  `json:"plugins"`
}

type searchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchPlugin struct {
	ID         string `json:"id"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Choices []struct {
		Message struct {
			Content     string `json:"content"`
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation struct {
					URL     string `json:"url"`
					Title   string `json:"title"`
					Content string `json:"content"`
				} `json:"url_citation"`
			} `json:"annotations"`
		} `json:"message"`
	} `json:"choices"`
}

// Search runs one web search and returns the summary plus citations.
func (w *WebSearch) Search(ctx context.Context, query string, maxResults int) (string, []Source, error) {
	if query == "" {
		return "", nil, fmt.Errorf("empty search query")
	}

	payload := searchRequest{
		Model:    w.model,
		Messages: []searchMessage{{Role: "user", Content: query}},
		Plugins:  []searchPlugin{{ID: "web", MaxResults: maxResults}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("web search status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", nil, fmt.Errorf("web search returned no choices")
	}

	msg := decoded.Choices[0].Message
	var sources []Source
	for _, a := range msg.Annotations {
		if a.Type != "url_citation" {
			continue
		}
		sources = append(sources, Source{
			URL:     a.URLCitation.URL,
			Title:   a.URLCitation.Title,
			Snippet: a.URLCitation.Content,
		})
	}
	return msg.Content, sources, nil
}
