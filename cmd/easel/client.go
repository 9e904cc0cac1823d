package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var apiClient = &http.Client{Timeout: 10 * time.Second}

// fetchJSON performs a GET against the daemon and decodes the JSON
// response into out.
func fetchJSON(baseURL, path string, out any) error {
	resp, err := apiClient.Get(baseURL + path)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}
