package cli

import (
	"bytes"
	"strings"
	"testing"

	"tapkit/internal/taptest"
)

var tapEnvVars = []string{
	"TAP_URL", "TAP_HOST", "TAP_SERVER_CONTEXT", "TAP_CONTEXT",
	"TAP_UPLOAD_CONTEXT", "TAP_TABLE_EDIT_CONTEXT", "TAP_DATA_CONTEXT",
	"TAP_DATALINK_CONTEXT", "TAP_PORT", "TAP_SSL_PORT", "TAP_HTTPS",
	"TAP_CLIENT_ID", "TAP_POLL_INTERVAL", "TAP_LOG_LEVEL", "TAP_USE_NAMES_OVER_IDS",
	"TAP_OUTPUT",
}

// isolate gives the test its own HOME and working directory and clears
// the TAP_* environment.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range tapEnvVars {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
	return home
}

// run executes the root command and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, "", args...)
}

func runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(input))
	err := cmd.Execute()
	return out.String(), err
}

// serviceURL is the TAP URL of a fake service.
func serviceURL(srv *taptest.Server) string {
	return srv.URL + taptest.TapPath
}

// containsIgnoreCase checks if s contains substr (case-insensitive).
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
