package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath, logLevel = "", ""

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSend_DryRun(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "recipients.csv",
		"email,name,department_code\n"+
			"ada@example.com,Ada,eng\n"+
			"broken,Bob,eng\n"+
			"cy@example.com,Cy,sales\n")
	tpl := writeFile(t, dir, "body.html", "<body>Hi #name#</body>")

	out, err := execute(t, "send", source, "ENG", "Hello", tpl, "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, `"broken"`)
	assert.Contains(t, out, "ada@example.com")
	assert.NotContains(t, out, "cy@example.com")
}

func TestSend_FatalInputErrors(t *testing.T) {
	dir := t.TempDir()
	tpl := writeFile(t, dir, "body.html", "<body>Hi</body>")

	_, err := execute(t, "send", filepath.Join(dir, "missing.csv"), "ALL", "Hello", tpl, "--dry-run")
	assert.ErrorIs(t, err, os.ErrNotExist)

	source := writeFile(t, dir, "bad.csv", "name\nAda\n")
	_, err = execute(t, "send", source, "ALL", "Hello", tpl, "--dry-run")
	assert.ErrorContains(t, err, "malformed recipient source")

	good := writeFile(t, dir, "ok.csv", "email,name,department_code\nada@example.com,Ada,ENG\n")
	_, err = execute(t, "send", good, "ALL", "Hello", filepath.Join(dir, "missing.html"), "--dry-run")
	assert.Error(t, err)

	_, err = execute(t, "send", good, "ALL")
	assert.Error(t, err, "four arguments are required")
}

func TestAnalytics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracking/counter", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"email_id":"s1","recipient_email":"ada@example.com","opens":2}]}`))
	})
	mux.HandleFunc("/email-count-by-dept", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("SMARTMAILER_HISTORY_BASE_URL", srv.URL)

	out, err := execute(t, "analytics")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracking counter")
	assert.Contains(t, out, "ada@example.com")
	assert.Contains(t, out, "(no data)")
}

func TestAnalytics_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("SMARTMAILER_HISTORY_BASE_URL", srv.URL)

	_, err := execute(t, "analytics")
	assert.ErrorContains(t, err, "status 500")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
}
