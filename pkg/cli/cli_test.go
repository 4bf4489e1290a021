package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapkit/internal/domain"
	"tapkit/internal/taptest"
)

const jobList = `<uws:jobs xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobref id="42"><uws:phase>COMPLETED</uws:phase><uws:runId>nightly</uws:runId></uws:jobref>
  <uws:jobref id="43"><uws:phase>EXECUTING</uws:phase></uws:jobref>
</uws:jobs>`

func tablesServer(t *testing.T) *taptest.Server {
	t.Helper()
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/tables", taptest.Respond(http.StatusOK, taptest.TablesXML("public", map[string][]taptest.Column{
		"stars": {{Name: "ra", Flags: 1}, {Name: "dec", Flags: 2}},
	})))
	return srv
}

func TestTablesCommand(t *testing.T) {
	isolate(t)
	srv := tablesServer(t)

	out, err := run(t, "--url", serviceURL(srv), "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "public.stars")

	out, err = run(t, "--url", serviceURL(srv), "-o", "json", "tables", "--only-names")
	require.NoError(t, err)
	var tables []any
	require.NoError(t, json.Unmarshal([]byte(out), &tables))
	assert.Len(t, tables, 1)

	req, ok := srv.Last(taptest.TapPath + "/tables")
	require.True(t, ok)
	assert.Equal(t, "only_tables=true", req.RawQuery)
}

func TestTableCommand(t *testing.T) {
	isolate(t)
	srv := tablesServer(t)

	out, err := run(t, "--url", serviceURL(srv), "table", "public.stars")
	require.NoError(t, err)
	assert.Contains(t, out, "public.stars")
	assert.Contains(t, out, "COLUMN")
	assert.Contains(t, out, "Ra")
	assert.Contains(t, out, "Dec")
}

func TestQueryCommand(t *testing.T) {
	isolate(t)
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"}, []int{1}, []int{2})))

	t.Run("table output", func(t *testing.T) {
		out, err := run(t, "--url", serviceURL(srv), "query", "SELECT a FROM t")
		require.NoError(t, err)
		assert.Contains(t, out, "A")
		assert.Contains(t, out, "2")

		req, ok := srv.Last(taptest.TapPath + "/sync")
		require.True(t, ok)
		assert.Equal(t, "SELECT TOP 2000 a FROM t", req.Form.Get("QUERY"))
	})

	t.Run("json output", func(t *testing.T) {
		out, err := run(t, "--url", serviceURL(srv), "-o", "json", "query", "--max-rec", "10", "SELECT a FROM t")
		require.NoError(t, err)
		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &rows))
		assert.Equal(t, []map[string]any{{"a": float64(1)}, {"a": float64(2)}}, rows)

		req, _ := srv.Last(taptest.TapPath + "/sync")
		assert.Equal(t, "SELECT a FROM t", req.Form.Get("QUERY"))
		assert.Equal(t, "10", req.Form.Get("MAXREC"))
	})

	t.Run("query from file", func(t *testing.T) {
		require.NoError(t, os.WriteFile("q.adql", []byte("SELECT TOP 1 a FROM t\n"), 0o600))
		_, err := run(t, "--url", serviceURL(srv), "query", "-f", "q.adql")
		require.NoError(t, err)
		req, _ := srv.Last(taptest.TapPath + "/sync")
		assert.Equal(t, "SELECT TOP 1 a FROM t", req.Form.Get("QUERY"))
	})

	t.Run("missing query", func(t *testing.T) {
		_, err := run(t, "--url", serviceURL(srv), "query")
		require.ErrorContains(t, err, "a query is required")
	})
}

func TestQueryCommand_Async(t *testing.T) {
	isolate(t)
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/async", taptest.Redirect("/tap-server/tap/async/42"))
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK, taptest.JobXML("42", "COMPLETED", nil)))
	srv.HandleTap(http.MethodGet, "/async/{jobid}/results/result", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"n"}, []int{5})))

	out, err := run(t, "--url", serviceURL(srv), "-o", "json", "query", "--async", "SELECT n FROM t")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []map[string]any{{"n": float64(5)}}, rows)

	out, err = run(t, "--url", serviceURL(srv), "-o", "json", "query", "--async", "--background", "SELECT n FROM t")
	require.NoError(t, err)
	var view jobView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "42", view.JobID)
	assert.True(t, view.Async)
}

func TestJobsListCommand(t *testing.T) {
	isolate(t)
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/async", taptest.Respond(http.StatusOK, jobList))
	srv.HandleTap(http.MethodGet, "/jobs/async", taptest.Respond(http.StatusOK, jobList))

	out, err := run(t, "--url", serviceURL(srv), "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "JOB ID")
	assert.Contains(t, out, "EXECUTING")
	assert.Equal(t, 1, srv.Count(http.MethodGet, taptest.TapPath+"/async"))

	_, err = run(t, "--url", serviceURL(srv), "jobs", "list", "--limit", "2", "--order", "start_time")
	require.NoError(t, err)
	req, ok := srv.Last(taptest.TapPath + "/jobs/async")
	require.True(t, ok)
	assert.Equal(t, "limit=2&order=start_time", req.RawQuery)
}

func TestJobsSaveCommand(t *testing.T) {
	isolate(t)
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK,
		taptest.JobXML("42", "COMPLETED", map[string]string{"format": "csv"})))
	srv.HandleTap(http.MethodGet, "/async/{jobid}/results/result", taptest.Respond(http.StatusOK, "a\n1\n"))

	out, err := run(t, "--url", serviceURL(srv), "jobs", "save", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "async_42.csv")

	data, err := os.ReadFile("async_42.csv")
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(data))
}

func TestProfileSelectsService(t *testing.T) {
	isolate(t)
	srv := tablesServer(t)

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "local",
		Profiles:       map[string]Profile{"local": {URL: serviceURL(srv), Output: "json"}},
	}))

	out, err := run(t, "tables")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)), "profile output format applies")
	assert.Equal(t, 1, srv.Count(http.MethodGet, taptest.TapPath+"/tables"))

	t.Run("environment beats profile", func(t *testing.T) {
		other := tablesServer(t)
		t.Setenv("TAP_URL", serviceURL(other))
		_, err := run(t, "tables")
		require.NoError(t, err)
		assert.Equal(t, 1, other.Count(http.MethodGet, taptest.TapPath+"/tables"))
		assert.Equal(t, 1, srv.Count(http.MethodGet, taptest.TapPath+"/tables"))
	})

	t.Run("flag beats environment", func(t *testing.T) {
		t.Setenv("TAP_URL", "http://127.0.0.1:1/tap-server/tap")
		_, err := run(t, "--url", serviceURL(srv), "tables")
		require.NoError(t, err)
		assert.Equal(t, 2, srv.Count(http.MethodGet, taptest.TapPath+"/tables"))
	})
}

func TestLoginCommand_Validation(t *testing.T) {
	isolate(t)

	_, err := runWithInput(t, "secret\n", "--url", "http://127.0.0.1:1/tap-server/tap", "login", "--password-stdin")
	require.ErrorContains(t, err, "--user or --credentials-file is required")

	_, err = run(t, "--url", "http://127.0.0.1:1/tap-server/tap", "login", "--credentials-file", "creds", "--user", "jdoe")
	require.Error(t, err)
	assert.True(t, containsIgnoreCase(err.Error(), "none of the others can be"))
}

func TestLogoutCommand_ClearsCookieOnError(t *testing.T) {
	isolate(t)
	srv := taptest.New(t)

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles:       map[string]Profile{"default": {URL: serviceURL(srv), User: "jdoe", Cookie: "SESSION=abc"}},
	}))

	// Logout goes over HTTPS and the fake service only speaks HTTP.
	_, err := run(t, "logout")
	require.Error(t, err)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles["default"].Cookie)
	assert.Equal(t, "jdoe", cfg.Profiles["default"].User)
}

func TestRemoteErrorSurface(t *testing.T) {
	isolate(t)
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusBadRequest, taptest.ErrorVOTable("Unknown table t")))

	_, err := run(t, "--url", serviceURL(srv), "query", "SELECT * FROM t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown table t")

	obj := errorObject(err)
	assert.Equal(t, "remote", obj["kind"])
	assert.Equal(t, http.StatusBadRequest, obj["http_status"])
}

func TestErrorObject(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   any
		wantStatus any
	}{
		{name: "remote", err: domain.ErrRemote(404, "Not Found", "no such job"), wantKind: "remote", wantStatus: 404},
		{name: "remote without status", err: domain.ErrRemote(0, "", "job failed"), wantKind: "remote"},
		{name: "validation", err: domain.ErrValidation("bad input"), wantKind: "validation"},
		{name: "not found wrapped", err: fmt.Errorf("load: %w", domain.ErrNotFound("table %q not found", "x")), wantKind: "not_found"},
		{name: "protocol", err: domain.ErrProtocol("missing Location"), wantKind: "protocol"},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := errorObject(tt.err)
			assert.Equal(t, tt.err.Error(), obj["error"])
			assert.Equal(t, tt.wantKind, obj["kind"])
			assert.Equal(t, tt.wantStatus, obj["http_status"])
		})
	}
}

func TestZeroArgCommandsRejectUnexpectedPositionalArgs(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "version", args: []string{"version", "extra"}},
		{name: "config show", args: []string{"config", "show", "extra"}},
		{name: "tables", args: []string{"tables", "extra"}},
		{name: "logout", args: []string{"logout", "extra"}},
		{name: "jobs list", args: []string{"jobs", "list", "extra"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), "unknown command \"extra\"")
		})
	}
}

func TestRootRejectsBadSettings(t *testing.T) {
	isolate(t)

	_, err := run(t, "--url", "ftp://example.org/tap", "tables")
	require.ErrorContains(t, err, "scheme must be http or https")

	_, err = run(t, "-o", "yaml", "version")
	require.ErrorContains(t, err, "unsupported output format")
}
