package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/QTest-hq/riskplan/internal/dispatch"
)

var (
	apiURL     string
	jsonOutput bool
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func getJSON(url string) ([]byte, error) {
	return doJSON(http.MethodGet, url, nil)
}

func postJSON(url string, data any) ([]byte, error) {
	return doJSON(http.MethodPost, url, data)
}

func doJSON(method, url string, data any) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return respBody, apiError(resp, respBody)
	}
	return respBody, nil
}

// apiError extracts the message of an error response: the plain error body
// or the content of a failed envelope
func apiError(resp *http.Response, body []byte) error {
	var errResp struct {
		Error   string `json:"error"`
		Content string `json:"content"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error != "" {
			return fmt.Errorf("API error: %s", errResp.Error)
		}
		if errResp.Content != "" {
			return fmt.Errorf("API error: %s", errResp.Content)
		}
	}
	return fmt.Errorf("API error: %s", resp.Status)
}

// decodeEnvelope parses an operation response. A failed envelope still
// decodes so callers can print its content.
func decodeEnvelope(body []byte) (*dispatch.Envelope, error) {
	var env dispatch.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &env, nil
}
