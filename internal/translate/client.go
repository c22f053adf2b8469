// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package translate talks to a LibreTranslate-compatible translation service
// and wraps it with the timeout, retry and pacing policy used for ingest.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls a LibreTranslate-style POST /translate endpoint
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Source  string
	Target  string
	HTTP    *http.Client
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// NewHTTPClient creates an English to Tetum client for baseURL
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Source:  "en",
		Target:  "tet",
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Translate sends one text and returns the translation as-is
func (c *HTTPClient) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(&translateRequest{
		Q:      text,
		Source: c.Source,
		Target: c.Target,
		Format: "text",
		APIKey: c.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("translation service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode translate response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("translation service error: %s", out.Error)
	}
	return out.TranslatedText, nil
}
