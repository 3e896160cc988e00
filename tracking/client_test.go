package tracking

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientFromEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://tracking.local")
	t.Setenv(EnvAPIKey, "secret")

	client, err := NewClientFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://tracking.local", client.BaseURL)
	assert.Equal(t, "secret", client.APIKey)
}

func TestNewClientFromEnvMissingURL(t *testing.T) {
	t.Setenv(EnvBaseURL, "")

	_, err := NewClientFromEnv()
	assert.Error(t, err)
}

func TestStartRunAndFinish(t *testing.T) {
	var finishCalled bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/api/v1/runs":
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "cropseg-semantic", payload["project"])
			assert.Equal(t, "load", payload["job_type"])

			json.NewEncoder(w).Encode(Run{ID: "run-42", Project: payload["project"], JobType: payload["job_type"]})
		case "/api/v1/runs/run-42/finish":
			finishCalled = true
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")

	run, err := client.StartRun("cropseg-semantic", "load")
	require.NoError(t, err)
	assert.Equal(t, "run-42", run.ID)

	require.NoError(t, run.Finish())
	assert.True(t, finishCalled)
}

func TestStartRunServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").StartRun("cropseg-semantic", "load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestLogArtifactUploadsEveryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.npy"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.npy"), []byte("bbb"), 0o644))

	uploads := map[string]string{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/artifacts", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))

		assert.Equal(t, "run-42", r.FormValue("run_id"))
		assert.Equal(t, "test_images", r.FormValue("artifact"))
		assert.Equal(t, "dataset", r.FormValue("type"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		content, err := io.ReadAll(file)
		require.NoError(t, err)
		uploads[r.FormValue("path")] = string(content)
	}))
	defer server.Close()

	run := &Run{ID: "run-42", client: NewClient(server.URL, "")}
	require.NoError(t, run.LogArtifact("test_images", "dataset", dir))

	assert.Equal(t, map[string]string{
		"a.npy":        "aaa",
		"nested/b.npy": "bbb",
	}, uploads)
}

func TestLogArtifactUploadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.npy"), []byte("aaa"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage full", http.StatusInsufficientStorage)
	}))
	defer server.Close()

	run := &Run{ID: "run-42", client: NewClient(server.URL, "")}
	err := run.LogArtifact("test_images", "dataset", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.npy")
}

func TestLogTable(t *testing.T) {
	var payload struct {
		RunID   string          `json:"run_id"`
		Name    string          `json:"name"`
		Columns []string        `json:"columns"`
		Rows    [][]interface{} `json:"rows"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/tables", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer server.Close()

	table := NewTable("filename", "true_color")
	require.NoError(t, table.AddRow("S2_0001.npy", "data:image/png;base64,xxxx"))

	run := &Run{ID: "run-42", client: NewClient(server.URL, "")}
	require.NoError(t, run.LogTable("sample-test-data", table))

	assert.Equal(t, "run-42", payload.RunID)
	assert.Equal(t, "sample-test-data", payload.Name)
	assert.Equal(t, []string{"filename", "true_color"}, payload.Columns)
	require.Len(t, payload.Rows, 1)
	assert.Equal(t, "S2_0001.npy", payload.Rows[0][0])
}

func TestTableRejectsRaggedRow(t *testing.T) {
	table := NewTable("a", "b")
	assert.Error(t, table.AddRow("only-one"))
}
