package genqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"
)

// Client talks to the ComfyUI HTTP API.
type Client struct {
	baseURL   string
	outputDir string
	http      *http.Client
}

// NewClient returns a client for the ComfyUI instance at baseURL. Generated
// images land in outputDir on the ComfyUI host.
func NewClient(baseURL, outputDir string) *Client {
	return &Client{
		baseURL:   baseURL,
		outputDir: outputDir,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// buildWorkflow assembles the Flux Kontext Dev GGUF graph: separate GGUF
// unet and CLIP loaders plus a standard VAE. Tuned for a 12GB card with
// the Q5_K_S quant.
func buildWorkflow(prompt string, width, height, steps int, seed int64, planID string) map[string]any {
	return map[string]any{
		"1": map[string]any{
			"class_type": "UnetLoaderGGUF",
			"inputs": map[string]any{
				"unet_name": "flux1-kontext-dev-Q5_K_S.gguf",
			},
		},
		"2": map[string]any{
			"class_type": "DualCLIPLoaderGGUF",
			"inputs": map[string]any{
				"clip_name1": "clip_l.safetensors",
				"clip_name2": "t5-v1_1-xxl-encoder-Q4_K_S.gguf",
				"type":       "flux",
			},
		},
		"3": map[string]any{
			"class_type": "VAELoader",
			"inputs": map[string]any{
				"vae_name": "ae.safetensors",
			},
		},
		"4": map[string]any{
			"class_type": "CLIPTextEncode",
			"inputs": map[string]any{
				"text": prompt,
				"clip": []any{"2", 0},
			},
		},
		"5": map[string]any{
			"class_type": "CLIPTextEncode",
			"inputs": map[string]any{
				"text": "",
				"clip": []any{"2", 0},
			},
		},
		"6": map[string]any{
			"class_type": "EmptyLatentImage",
			"inputs": map[string]any{
				"width":      width,
				"height":     height,
				"batch_size": 1,
			},
		},
		"7": map[string]any{
			"class_type": "KSampler",
			"inputs": map[string]any{
				"model":        []any{"1", 0},
				"positive":     []any{"4", 0},
				"negative":     []any{"5", 0},
				"latent_image": []any{"6", 0},
				"seed":         seed,
				"steps":        steps,
				"cfg":          1.0,
				"sampler_name": "euler",
				"scheduler":    "simple",
				"denoise":      1.0,
			},
		},
		"8": map[string]any{
			"class_type": "VAEDecode",
			"inputs": map[string]any{
				"samples": []any{"7", 0},
				"vae":     []any{"3", 0},
			},
		},
		"9": map[string]any{
			"class_type": "SaveImage",
			"inputs": map[string]any{
				"images":          []any{"8", 0},
				"filename_prefix": "howell_" + planID,
			},
		},
	}
}

// QueuePrompt submits a workflow and returns ComfyUI's prompt id.
func (c *Client) QueuePrompt(ctx context.Context, workflow map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": workflow})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comfyui /prompt returned %d", resp.StatusCode)
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("comfyui returned no prompt_id")
	}
	return result.PromptID, nil
}

// OutputPath polls /history for a finished prompt. Returns the image path
// and true once an output image appears; false while still rendering.
func (c *Client) OutputPath(ctx context.Context, promptID string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = resp.Body.Close() }()

	var history map[string]struct {
		Outputs map[string]struct {
			Images []struct {
				Filename string `json:"filename"`
			} `json:"images"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return "", false, err
	}
	entry, ok := history[promptID]
	if !ok {
		return "", false, nil
	}
	for _, node := range entry.Outputs {
		for _, img := range node.Images {
			return filepath.Join(c.outputDir, img.Filename), true, nil
		}
	}
	return "", false, nil
}

// Alive checks whether ComfyUI is reachable.
func (c *Client) Alive() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(c.baseURL + "/system_stats")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// URL returns the configured ComfyUI base URL.
func (c *Client) URL() string {
	return c.baseURL
}
