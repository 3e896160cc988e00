// Package tracking is the client for the experiment-tracking service:
// run lifecycle, versioned dataset artifact uploads, and browsable sample
// tables. A tracking failure aborts the evaluation run.
package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Environment variables expected in .env or the process environment.
const (
	EnvBaseURL = "TRACKING_BASE_URL"
	EnvAPIKey  = "TRACKING_API_KEY"
)

// Client talks to the tracking service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a tracking client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientFromEnv builds a client from TRACKING_BASE_URL and
// TRACKING_API_KEY.
func NewClientFromEnv() (*Client, error) {
	baseURL := os.Getenv(EnvBaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%s is not set", EnvBaseURL)
	}
	return NewClient(baseURL, os.Getenv(EnvAPIKey)), nil
}

// Run is one logical tracking run the service groups uploads under.
type Run struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	JobType string `json:"job_type"`

	client *Client
}

// StartRun opens a run on the service.
func (c *Client) StartRun(project, jobType string) (*Run, error) {
	body, err := c.postJSON("/api/v1/runs", map[string]string{
		"project":  project,
		"job_type": jobType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start tracking run: %w", err)
	}

	var run Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run response: %w", err)
	}
	run.client = c
	return &run, nil
}

// Finish marks the run complete on the service.
func (r *Run) Finish() error {
	_, err := r.client.postJSON(fmt.Sprintf("/api/v1/runs/%s/finish", r.ID), struct{}{})
	if err != nil {
		return fmt.Errorf("failed to finish tracking run: %w", err)
	}
	return nil
}

// LogArtifact uploads every regular file under dir as one versioned
// artifact of the given type.
func (r *Run) LogArtifact(name, artifactType, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk artifact directory %s: %w", dir, err)
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if err := r.uploadFile(name, artifactType, rel, path); err != nil {
			return fmt.Errorf("failed to upload %s of artifact %s: %w", rel, name, err)
		}
		return nil
	})
}

// LogTable uploads a table under the run.
func (r *Run) LogTable(name string, table *Table) error {
	_, err := r.client.postJSON("/api/v1/tables", map[string]interface{}{
		"run_id":  r.ID,
		"name":    name,
		"columns": table.Columns,
		"rows":    table.Rows,
	})
	if err != nil {
		return fmt.Errorf("failed to log table %s: %w", name, err)
	}
	return nil
}

func (r *Run) uploadFile(name, artifactType, rel, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for field, value := range map[string]string{
		"run_id":   r.ID,
		"artifact": name,
		"type":     artifactType,
		"path":     filepath.ToSlash(rel),
	} {
		if err := writer.WriteField(field, value); err != nil {
			return err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, r.client.BaseURL+"/api/v1/artifacts", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	r.client.authorize(req)

	resp, err := r.client.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

func (c *Client) postJSON(path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("tracking service returned %s: %s", resp.Status, bytes.TrimSpace(body))
}
