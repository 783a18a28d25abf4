package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serverledge-faas/localfaas/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapUsage(t *testing.T) {
	assert.Equal(t, executor.ExitUsage, run([]string{"bootstrap"}))
}

func TestInvokePostsRequest(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode":200}`))
	}))
	defer srv.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	code := run([]string{"invoke", "--host", host, "--port", port, "-e", `{"url":"http://example.com"}`, "-f", "handler.handler", "-t", "2.5"})
	require.Equal(t, 0, code)
	assert.Equal(t, map[string]interface{}{"url": "http://example.com"}, received["event"])
	assert.Equal(t, "handler.handler", received["file"])
	assert.Equal(t, 2.5, received["timeout"])
	assert.Contains(t, out.String(), `{"statusCode":200}`)
}

func TestInvokeRejectsBadEvent(t *testing.T) {
	assert.Equal(t, 64, run([]string{"invoke", "-e", "{"}))
}

func TestInstallCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "requirements.txt"), []byte("dep\n"), 0o644))
	cacheRoot := t.TempDir()
	t.Setenv("LOCALFAAS_REQUIREMENTS_CACHE", cacheRoot)
	t.Setenv("LOCALFAAS_REQUIREMENTS_INSTALLER_CMD", `sh -c true`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	code := run([]string{"install", "-d", src})
	require.Equal(t, 0, code)

	dir := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(dir, cacheRoot), dir)
	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(cacheRoot, "default_requirements.txt"))
}
