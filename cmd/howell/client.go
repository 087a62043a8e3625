package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"howell/internal/config"
)

func urlQuery(s string) string {
	return url.QueryEscape(s)
}

// client is a thin authenticated wrapper around the daemon's HTTP API.
type client struct {
	base string
	key  string
	http *http.Client
}

func newClient() (*client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	host := cfg.DaemonHost
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	key := ""
	if data, err := os.ReadFile(cfg.APIKeyFile()); err == nil {
		key = strings.TrimSpace(string(data))
	}

	return &client{
		base: fmt.Sprintf("http://%s:%d", host, cfg.DaemonPort),
		key:  key,
		http: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s (is howelld running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = string(data)
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *client) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}
