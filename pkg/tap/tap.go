// Package tap is a client for IVOA TAP services and the TAP+ extensions.
//
// Tap covers the standard protocol: table metadata, synchronous and
// asynchronous queries and job management. Plus adds the TAP+ operations
// (login, user tables, sharing, data and datalink access) on the same
// connection handler.
package tap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"tapkit/internal/adql"
	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/job"
	"tapkit/internal/observability"
	"tapkit/internal/params"
	"tapkit/internal/table"
	"tapkit/internal/tapxml"
)

// Version is sent in the tapclient parameter of every query.
var Version = "dev"

// Config configures a Tap client.
type Config struct {
	// URL is split into protocol, host, port and contexts. When empty, Conn
	// must name the host.
	URL string
	// Conn holds explicit connection settings. With URL set, its protocol,
	// host, ports, server and tap contexts are replaced by the parsed ones.
	Conn conn.Config
	// Handler, when set, is used as is and URL and Conn are ignored.
	Handler *conn.Handler

	ClientID          string        // default "tapkit-<Version>"
	PollInterval      time.Duration // async polling pace (default 500ms)
	UseNamesOverIDs   bool          // name VOTable columns by name instead of ID
	CompressedFormats []string      // formats returned compressed (default votable, fits, ecsv)

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider  // nil uses the global provider
	Registerer     prometheus.Registerer // nil disables client metrics
}

// Tap is a TAP client. It is not safe for concurrent use.
type Tap struct {
	handler    *conn.Handler
	logger     *slog.Logger
	clientID   string
	interval   time.Duration
	readOpts   table.ReadOptions
	compressed []string
	now        func() time.Time
	jobOpts    job.Options
}

// New creates a Tap client from cfg.
func New(cfg Config) (*Tap, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := cfg.Handler
	tracer, metrics := cfg.Conn.Tracer, cfg.Conn.Metrics
	if h == nil {
		cc, err := connConfig(cfg)
		if err != nil {
			return nil, err
		}
		if cc.Logger == nil {
			cc.Logger = logger
		}
		if cfg.Registerer != nil && cc.Metrics == nil {
			m, err := observability.NewMetrics(cfg.Registerer)
			if err != nil {
				return nil, err
			}
			cc.Metrics = m
		}
		if cc.Tracer == nil {
			cc.Tracer = observability.NewTracer(cfg.TracerProvider)
		}
		tracer, metrics = cc.Tracer, cc.Metrics
		if h, err = conn.New(cc); err != nil {
			return nil, err
		}
	}

	t := &Tap{
		handler:    h,
		logger:     logger,
		clientID:   cfg.ClientID,
		interval:   cfg.PollInterval,
		readOpts:   table.ReadOptions{UseNamesOverIDs: cfg.UseNamesOverIDs},
		compressed: cfg.CompressedFormats,
		now:        time.Now,
	}
	if t.clientID == "" {
		t.clientID = "tapkit-" + Version
	}
	if t.interval <= 0 {
		t.interval = job.DefaultPollInterval
	}
	if t.compressed == nil {
		t.compressed = job.DefaultCompressedFormats
	}
	t.jobOpts = job.Options{
		Handler:      h,
		PollInterval: t.interval,
		ReadOptions:  t.readOpts,
		Logger:       logger,
		Tracer:       tracer,
		Metrics:      metrics,
	}
	return t, nil
}

func connConfig(cfg Config) (conn.Config, error) {
	cc := cfg.Conn
	if cfg.URL == "" {
		if cc.Host == "" {
			return conn.Config{}, domain.ErrValidation("either a URL or a host is required")
		}
		return cc, nil
	}
	parsed, err := conn.ParseURL(cfg.URL)
	if err != nil {
		return conn.Config{}, err
	}
	cc.Protocol = parsed.Protocol
	cc.Host = parsed.Host
	cc.Port = parsed.Port
	if parsed.SSLPort != 0 {
		cc.SSLPort = parsed.SSLPort
	}
	cc.ServerContext = parsed.ServerContext
	cc.TapContext = parsed.TapContext
	return cc, nil
}

// Handler returns the connection handler shared by every operation.
func (t *Tap) Handler() *conn.Handler { return t.handler }

// ClientID returns the value of the tapclient parameter.
func (t *Tap) ClientID() string { return t.clientID }

func (t *Tap) String() string {
	return fmt.Sprintf("TAP client %s - Connection:\n\t%s", t.clientID, t.handler)
}

// LoadTables loads the metadata of every public table, and of the user's
// private tables when logged in.
func (t *Tap) LoadTables(ctx context.Context) ([]*domain.TableMeta, error) {
	return t.loadTables(ctx, false, false)
}

func (t *Tap) loadTables(ctx context.Context, onlyNames, includeShared bool) ([]*domain.TableMeta, error) {
	q := params.New().
		SetIf(onlyNames, "only_tables", "true").
		SetIf(includeShared, "share_accessible", "true")

	t.logger.Info("Retrieving tables...")
	resp, err := t.handler.Get(ctx, conn.Tap, "tables", q)
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	t.logger.Info("Parsing tables...")
	tables, err := tapxml.ParseTables(resp.Body)
	if err != nil {
		return nil, err
	}
	t.logger.Info("Done.", "tables", len(tables))
	return tables, nil
}

// LoadTable loads the metadata of one schema-qualified table. It returns
// nil when the service does not describe the table.
func (t *Tap) LoadTable(ctx context.Context, qualifiedName string) (*domain.TableMeta, error) {
	if qualifiedName == "" {
		return nil, domain.ErrValidation("table name is required")
	}
	if _, ok := adql.SchemaName(qualifiedName); !ok {
		return nil, domain.ErrValidation("schema name not found in qualified table %q", qualifiedName)
	}

	t.logger.Debug("retrieving table", "table", qualifiedName)
	resp, err := t.handler.Get(ctx, conn.Tap, "tables", params.New().Set("tables", qualifiedName))
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	tables, err := tapxml.ParseTables(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, nil
	}
	return tables[0], nil
}
