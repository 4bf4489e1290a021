package tap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/job"
	"tapkit/internal/table"
	"tapkit/internal/taptest"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTap(t *testing.T, srv *taptest.Server) *Tap {
	t.Helper()
	c, err := New(Config{Conn: srv.Config(), PollInterval: time.Millisecond, Logger: quietLogger()})
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func newPlus(t *testing.T, srv *taptest.Server) *Plus {
	t.Helper()
	return &Plus{Tap: newTap(t, srv)}
}

func TestNew(t *testing.T) {
	t.Run("from url", func(t *testing.T) {
		c, err := New(Config{URL: "https://gea.esac.esa.int/tap-server/tap"})
		require.NoError(t, err)
		assert.Equal(t, "https://gea.esac.esa.int:443/tap-server/tap/sync", c.Handler().URL(conn.Tap, "sync"))
		assert.Equal(t, "https://gea.esac.esa.int:443/tap-server/Upload", c.Handler().URL(conn.Upload, ""))
		assert.Equal(t, "tapkit-"+Version, c.ClientID())
	})

	t.Run("url keeps explicit sub contexts", func(t *testing.T) {
		c, err := New(Config{
			URL:      "http://localhost:8080/srv/tap",
			Conn:     conn.Config{DataContext: "data-server"},
			ClientID: "mytool",
		})
		require.NoError(t, err)
		assert.Equal(t, "/srv/data-server", c.Handler().ContextPath(conn.Data))
		assert.Equal(t, "mytool", c.ClientID())
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := New(Config{})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := New(Config{URL: "gea.esac.esa.int/tap"})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("injected handler", func(t *testing.T) {
		h, err := conn.New(conn.Config{Host: "example.org"})
		require.NoError(t, err)
		c, err := New(Config{Handler: h})
		require.NoError(t, err)
		assert.Same(t, h, c.Handler())
	})
}

func TestLoadTables(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/tables", taptest.Respond(http.StatusOK, taptest.TablesXML("public", map[string][]taptest.Column{
		"stars": {{Name: "ra", Flags: 33}, {Name: "dec", Flags: 34}},
	})))

	c := newTap(t, srv)
	tables, err := c.LoadTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "public.stars", tables[0].QualifiedName())
	require.Len(t, tables[0].Columns, 2)
	assert.Equal(t, domain.RoleRa, tables[0].Columns[0].Role)
	assert.True(t, tables[0].Columns[0].Indexed)

	req, ok := srv.Last(taptest.TapPath + "/tables")
	require.True(t, ok)
	assert.Empty(t, req.RawQuery)
}

func TestLoadTable(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/tables", taptest.Respond(http.StatusOK, taptest.TablesXML("public", map[string][]taptest.Column{
		"stars": {{Name: "ra"}},
	})))
	c := newTap(t, srv)

	meta, err := c.LoadTable(context.Background(), "public.stars")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "stars", meta.Name)

	req, _ := srv.Last(taptest.TapPath + "/tables")
	assert.Equal(t, "tables=public.stars", req.RawQuery)

	_, err = c.LoadTable(context.Background(), "stars")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, srv.Count(http.MethodGet, taptest.TapPath+"/tables"))
}

func TestLoadTables_RemoteError(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/tables", taptest.Respond(http.StatusInternalServerError, taptest.ErrorVOTable("catalog offline")))

	_, err := newTap(t, srv).LoadTables(context.Background())
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Equal(t, "catalog offline", re.Message)
}

func TestRequestMetrics(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/tables", taptest.Respond(http.StatusOK, taptest.TablesXML("public", nil)))

	reg := prometheus.NewRegistry()
	c, err := New(Config{Conn: srv.Config(), Registerer: reg, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = c.LoadTables(context.Background())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "tap_client_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLaunchJob_InjectsTop(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"}, []int{1}, []int{2})))
	c := newTap(t, srv)

	j, err := c.LaunchJob(context.Background(), "SELECT * FROM t", LaunchOptions{Name: "mine"})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseCompleted, j.Phase())
	assert.False(t, j.IsAsync())
	assert.Equal(t, "SELECT TOP 2000 * FROM t", j.Query())
	assert.Equal(t, "sync_20240506070809.vot.gz", j.OutputFile())
	res, err := j.Results(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumRows())

	req, ok := srv.Last(taptest.TapPath + "/sync")
	require.True(t, ok)
	assert.Equal(t, "SELECT TOP 2000 * FROM t", req.Form.Get("QUERY"))
	assert.True(t, strings.HasPrefix(string(req.Body),
		"REQUEST=doQuery&LANG=ADQL&FORMAT=votable&tapclient=tapkit-"+Version+"&QUERY="), string(req.Body))
	assert.Equal(t, "mine", req.Form.Get("jobname"))
	assert.Empty(t, req.Form.Get("PHASE"))
	assert.Empty(t, req.Form.Get("MAXREC"))
}

func TestLaunchJob_MaxRecSkipsTop(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"})))

	_, err := newTap(t, srv).LaunchJob(context.Background(), "SELECT * FROM t", LaunchOptions{MaxRec: 10})
	require.NoError(t, err)

	req, _ := srv.Last(taptest.TapPath + "/sync")
	assert.Equal(t, "SELECT * FROM t", req.Form.Get("QUERY"))
	assert.Equal(t, "10", req.Form.Get("MAXREC"))
}

func TestLaunchJob_FollowsSyncRedirectOnce(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Redirect("http://elsewhere/tap-server/tap/sync/123"))
	srv.HandleTap(http.MethodGet, "/sync/{id}", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"}, []int{7})))

	j, err := newTap(t, srv).LaunchJob(context.Background(), "SELECT TOP 1 a FROM t", LaunchOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, j.Phase())
	assert.Equal(t, http.StatusOK, j.ResponseStatus())
	assert.Equal(t, 1, srv.Count(http.MethodGet, taptest.TapPath+"/sync/123"))
	assert.Len(t, srv.Requests(), 2)
}

func TestLaunchJob_RedirectWithoutLocation(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusSeeOther, ""))

	j, err := newTap(t, srv).LaunchJob(context.Background(), "SELECT 1", LaunchOptions{})
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Nil(t, j)
	assert.Len(t, srv.Requests(), 1)
}

func TestLaunchJob_ErrorReturnsFailedJob(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusBadRequest, taptest.ErrorVOTable("Unknown table t")))
	out := filepath.Join(t.TempDir(), "err.csv")

	j, err := newTap(t, srv).LaunchJob(context.Background(), "SELECT * FROM t", LaunchOptions{
		Format:     "csv",
		OutputFile: out,
		Dump:       true,
	})
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Equal(t, "Unknown table t", re.Message)

	require.NotNil(t, j)
	assert.True(t, j.Failed())
	assert.Equal(t, domain.PhaseError, j.Phase())
	assert.Equal(t, "Unknown table t", j.ErrorMessage())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Unknown table t")
}

func TestLaunchJob_Dump(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusOK, "a\n1\n"))
	out := filepath.Join(t.TempDir(), "res.csv")

	j, err := newTap(t, srv).LaunchJob(context.Background(), "SELECT a FROM t", LaunchOptions{Format: "csv", OutputFile: out, Dump: true})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, j.Phase())
	assert.False(t, j.HasResults())
	assert.Equal(t, out, j.OutputFile())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(data))
}

func TestLaunchJob_UploadRequiresTableName(t *testing.T) {
	srv := taptest.New(t)
	c := newTap(t, srv)

	_, err := c.LaunchJob(context.Background(), "SELECT 1", LaunchOptions{Upload: FromBytes("t.vot", []byte("<VOTABLE/>"))})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = c.LaunchJobAsync(context.Background(), "SELECT 1", AsyncOptions{LaunchOptions: LaunchOptions{Upload: FromFile("missing.vot")}})
	require.ErrorAs(t, err, &ve)

	assert.Empty(t, srv.Requests())
}

func TestLaunchJob_Upload(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/sync", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"})))
	c := newTap(t, srv)

	t.Run("bytes", func(t *testing.T) {
		_, err := c.LaunchJob(context.Background(), "SELECT * FROM TAP_UPLOAD.mine", LaunchOptions{
			Upload:          FromBytes("t.vot", []byte("<VOTABLE/>")),
			UploadTableName: "mine",
		})
		require.NoError(t, err)

		req, _ := srv.Last(taptest.TapPath + "/sync")
		assert.Contains(t, req.Header.Get("Content-Type"), "multipart/form-data")
		assert.Equal(t, "mine,param:mine", req.Form.Get("UPLOAD"))
		assert.Equal(t, "doQuery", req.Form.Get("REQUEST"))
		assert.Equal(t, []byte("<VOTABLE/>"), req.Files["mine"])
	})

	t.Run("in-memory table", func(t *testing.T) {
		tbl := &table.Table{Columns: []table.Column{{Name: "id", Datatype: "long"}}, Rows: [][]any{{int64(5)}}}
		_, err := c.LaunchJob(context.Background(), "SELECT * FROM TAP_UPLOAD.ids", LaunchOptions{
			Upload:          FromTable(tbl),
			UploadTableName: "ids",
		})
		require.NoError(t, err)

		req, _ := srv.Last(taptest.TapPath + "/sync")
		content := string(req.Files["ids"])
		assert.Contains(t, content, "<VOTABLE")
		assert.Contains(t, content, "<TD>5</TD>")
	})
}

func TestLaunchJobAsync_WaitsForCompletion(t *testing.T) {
	srv := taptest.New(t)
	var polls atomic.Int32
	srv.HandleTap(http.MethodPost, "/async", taptest.Redirect("http://elsewhere/tap-server/tap/async/42"))
	srv.HandleTap(http.MethodGet, "/async/{jobid}", func(w http.ResponseWriter, r *http.Request) {
		phase := "EXECUTING"
		if polls.Add(1) > 1 {
			phase = "COMPLETED"
		}
		taptest.Respond(http.StatusOK, taptest.JobXML("42", phase, nil))(w, r)
	})
	srv.HandleTap(http.MethodGet, "/async/{jobid}/results/result", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"}, []int{1})))

	j, err := newTap(t, srv).LaunchJobAsync(context.Background(), "SELECT * FROM t", AsyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseCompleted, j.Phase())
	assert.Equal(t, "42", j.JobID())
	assert.Equal(t, "async_42.vot.gz", j.OutputFile())
	assert.True(t, j.HasResults())

	req, _ := srv.Last(taptest.TapPath + "/async")
	assert.Equal(t, "RUN", req.Form.Get("PHASE"))
	assert.Equal(t, "SELECT * FROM t", req.Form.Get("QUERY"))
}

func TestLaunchJobAsync_Failure(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/async", taptest.Redirect("/tap-server/tap/async/9"))
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK, taptest.ErrorJobXML("9", "division by zero")))

	j, err := newTap(t, srv).LaunchJobAsync(context.Background(), "SELECT 1/0 FROM t", AsyncOptions{})
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "division by zero")
	require.NotNil(t, j)
	assert.Equal(t, domain.PhaseError, j.Phase())
	assert.NotEqual(t, domain.PhaseExecuting, j.Phase())
}

func TestLaunchJobAsync_Background(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/async", taptest.Redirect("/tap-server/tap/async/7"))

	j, err := newTap(t, srv).LaunchJobAsync(context.Background(), "SELECT * FROM t", AsyncOptions{Background: true})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseExecuting, j.Phase())
	assert.Equal(t, "7", j.JobID())
	assert.Len(t, srv.Requests(), 1)
}

func TestLaunchJobAsync_NoAutorun(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/async", taptest.Redirect("/tap-server/tap/async/8"))
	srv.HandleTap(http.MethodPost, "/async/{jobid}/phase", taptest.Redirect("/tap-server/tap/async/8"))

	j, err := newTap(t, srv).LaunchJobAsync(context.Background(), "SELECT * FROM t", AsyncOptions{NoAutorun: true})
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePending, j.Phase())

	req, _ := srv.Last(taptest.TapPath + "/async")
	assert.Empty(t, req.Form.Get("PHASE"))
	assert.Equal(t, "SELECT * FROM t", req.Form.Get("QUERY"), "async queries are never rewritten")

	require.NoError(t, j.Start(context.Background()))
	assert.Equal(t, domain.PhaseExecuting, j.Phase())
}

func TestLaunchJobAsync_Rejected(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/async", taptest.Respond(http.StatusForbidden, "<html><li><b>Message: </b>quota exceeded</li></html>"))

	j, err := newTap(t, srv).LaunchJobAsync(context.Background(), "SELECT 1", AsyncOptions{})
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.StatusCode)
	assert.Equal(t, "quota exceeded", re.Message)
	require.NotNil(t, j)
	assert.True(t, j.Failed())
	assert.Equal(t, "async_20240506070809", j.OutputFile())
}

func TestLaunchJobAsync_DumpSavesResults(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodPost, "/async", taptest.Redirect("/tap-server/tap/async/5"))
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK, taptest.JobXML("5", "COMPLETED", nil)))
	srv.HandleTap(http.MethodGet, "/async/{jobid}/results/result", taptest.Respond(http.StatusOK, "id\n1\n"))
	out := filepath.Join(t.TempDir(), "out.csv")

	j, err := newTap(t, srv).LaunchJobAsync(context.Background(), "SELECT id FROM t", AsyncOptions{
		LaunchOptions: LaunchOptions{Format: "csv", OutputFile: out, Dump: true},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, j.Phase())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))
}

const jobList = `<uws:jobs xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobref id="42"><uws:phase>COMPLETED</uws:phase><uws:runId>nightly</uws:runId></uws:jobref>
  <uws:jobref id="43"><uws:phase>EXECUTING</uws:phase></uws:jobref>
</uws:jobs>`

func TestLoadAsyncJob(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK,
		taptest.JobXML("42", "COMPLETED", map[string]string{"query": "SELECT * FROM t", "format": "votable"})))
	srv.HandleTap(http.MethodGet, "/async/{jobid}/results/result", taptest.Respond(http.StatusOK, taptest.VOTable([]string{"a"}, []int{3})))
	c := newTap(t, srv)

	j, err := c.LoadAsyncJob(context.Background(), "42", false)
	require.NoError(t, err)
	assert.Equal(t, "42", j.JobID())
	assert.Equal(t, "SELECT * FROM t", j.Query())
	assert.Equal(t, domain.PhaseCompleted, j.Phase())
	assert.False(t, j.HasResults())

	j, err = c.LoadAsyncJob(context.Background(), "42", true)
	require.NoError(t, err)
	assert.True(t, j.HasResults())
	assert.Equal(t, 1, srv.Count(http.MethodGet, taptest.TapPath+"/async/42/results/result"))
}

func TestLoadAsyncJob_NotFound(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusNotFound, "no such job"))

	_, err := newTap(t, srv).LoadAsyncJob(context.Background(), "1", false)
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
}

func TestLoadAsyncJobByName(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/jobs/async", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "nightly" {
			taptest.Respond(http.StatusOK, jobList)(w, r)
			return
		}
		taptest.Respond(http.StatusOK, `<uws:jobs xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0"/>`)(w, r)
	})
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK, taptest.JobXML("42", "COMPLETED", nil)))
	c := newTap(t, srv)

	j, err := c.LoadAsyncJobByName(context.Background(), "nightly", false)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "42", j.JobID())

	j, err = c.LoadAsyncJobByName(context.Background(), "missing", false)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestSearchAsyncJobs(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/jobs/async", taptest.Respond(http.StatusOK, jobList))
	c := newTap(t, srv)

	f := job.NewFilter()
	require.NoError(t, f.Set(job.FilterLimit, "2"))
	require.NoError(t, f.Set(job.FilterOrder, "start_time"))

	jobs, err := c.SearchAsyncJobs(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "42", jobs[0].JobID())
	assert.Equal(t, "nightly", jobs[0].Name())
	assert.Equal(t, domain.PhaseExecuting, jobs[1].Phase())

	req, _ := srv.Last(taptest.TapPath + "/jobs/async")
	assert.Equal(t, "limit=2&order=start_time", req.RawQuery)

	_, err = c.SearchAsyncJobs(context.Background(), nil)
	require.NoError(t, err)
	req, _ = srv.Last(taptest.TapPath + "/jobs/async")
	assert.Empty(t, req.RawQuery)
}

func TestListAsyncJobs(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/async", taptest.Respond(http.StatusOK, jobList))

	jobs, err := newTap(t, srv).ListAsyncJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].IsAsync())
	assert.Equal(t, "43", jobs[1].JobID())
}

func TestSaveResults(t *testing.T) {
	srv := taptest.New(t)
	srv.HandleTap(http.MethodGet, "/async/{jobid}", taptest.Respond(http.StatusOK,
		taptest.JobXML("42", "COMPLETED", map[string]string{"format": "csv"})))
	srv.HandleTap(http.MethodGet, "/async/{jobid}/results/result", taptest.Respond(http.StatusOK, "a\n1\n"))
	c := newTap(t, srv)
	t.Chdir(t.TempDir())

	var ve *domain.ValidationError
	require.ErrorAs(t, c.SaveResults(context.Background(), nil), &ve)

	j, err := c.LoadAsyncJob(context.Background(), "42", false)
	require.NoError(t, err)
	assert.Equal(t, "async_42.csv", j.OutputFile())
	require.NoError(t, c.SaveResults(context.Background(), j))

	data, err := os.ReadFile("async_42.csv")
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(data))
}
