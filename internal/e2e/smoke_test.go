package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)
	upstream := newFakeUpstream(t)

	configPath := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
[capture]
segment_seconds = 1

[context]
timezone = "UTC"

[speech]
base_url = %[1]q

[reasoning]
base_url = %[1]q

[ticket]
base_url = %[1]q
project = "OPS"
user = "bot@example.com"
`, upstream.URL)), 0o600))

	_, stderr, err := runMJ(t, binaryPath, home, "--config", configPath, "secret", "set", "--key", "openai/api_key", "--value", "sk-test-123")
	require.NoError(t, err, "stderr: %s", stderr)
	_, stderr, err = runMJ(t, binaryPath, home, "--config", configPath, "secret", "set", "--key", "ticket/token", "--value", "jira-token")
	require.NoError(t, err, "stderr: %s", stderr)

	recording := writeRecording(t, 16000, 2)
	stdout, stderr, err := runMJ(t, binaryPath, home, "--config", configPath,
		"session", "run", "--replay-mic", recording, "--json")
	require.NoError(t, err, "stderr: %s", stderr)

	var summary struct {
		Segments      int                  `json:"segments"`
		Gaps          int                  `json:"gaps"`
		DraftsCreated int                  `json:"drafts_created"`
		Drafts        []domain.ActionDraft `json:"drafts"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 2, summary.Segments)
	assert.Equal(t, 0, summary.Gaps)
	require.Equal(t, 1, summary.DraftsCreated)
	id := string(summary.Drafts[0].ID)

	stdout, stderr, err = runMJ(t, binaryPath, home, "--config", configPath, "drafts", "approve", id)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "is now EXECUTED (OPS-1)")
	assert.Equal(t, int32(1), upstream.issues.Load())

	stdout, stderr, err = runMJ(t, binaryPath, home, "--config", configPath, "drafts", "approve", id)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "no change")
	assert.Equal(t, int32(1), upstream.issues.Load())
}

type fakeUpstream struct {
	*httptest.Server
	issues atomic.Int32
}

// newFakeUpstream answers the speech, reasoning and ticket calls from one
// server.
func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	upstream := &fakeUpstream{}
	upstream.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
			assert.Equal(t, "Bearer sk-test-123", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]string{"text": "Create a bug ticket for the login page failure."})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			answer := `{"actions":[{"tool_type":"TICKET","payload":{"title":"Fix login page failure","issue_type":"bug","priority":"high"}}]}`
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": answer}}},
			})
		case strings.HasSuffix(r.URL.Path, "/rest/api/2/search"):
			assert.Contains(t, r.URL.Query().Get("jql"), "meetjot-")
			_, _ = w.Write([]byte(`{"issues":[]}`))
		case strings.HasSuffix(r.URL.Path, "/rest/api/2/issue"):
			user, token, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "bot@example.com", user)
			assert.Equal(t, "jira-token", token)
			n := upstream.issues.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = fmt.Fprintf(w, `{"id":"1000%d","key":"OPS-%d"}`, n, n)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

func writeRecording(t *testing.T, sampleRate, seconds int) string {
	t.Helper()

	segment := domain.AudioSegment{
		Format:  domain.AudioFormat{SampleRate: sampleRate, Channels: 1},
		Samples: make([]int16, sampleRate*seconds),
	}
	path := filepath.Join(t.TempDir(), "mic.wav")
	require.NoError(t, os.WriteFile(path, segment.WAV(), 0o600))
	return path
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "mj-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/mj")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build mj binary: %s", string(output))
	return binaryPath
}

func runMJ(t *testing.T, binaryPath, home string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), "HOME="+home)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
