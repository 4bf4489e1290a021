// Package conn issues HTTP requests against the contexts of a TAP service.
package conn

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"tapkit/internal/observability"
)

// Context selects the base path a request is sent to.
type Context int

// Service contexts.
const (
	Server Context = iota
	Tap
	Upload
	TableEdit
	Data
	Datalink
)

var contextNames = map[Context]string{
	Server:    "server",
	Tap:       "tap",
	Upload:    "upload",
	TableEdit: "table-edit",
	Data:      "data",
	Datalink:  "datalink",
}

func (c Context) String() string {
	if s, ok := contextNames[c]; ok {
		return s
	}
	return "context(" + strconv.Itoa(int(c)) + ")"
}

// Config describes how to reach a TAP service. Sub-contexts left empty
// default to a fixed path under the server context.
type Config struct {
	Protocol string
	Host     string
	Port     int
	SSLPort  int

	ServerContext    string
	TapContext       string
	UploadContext    string
	TableEditContext string
	DataContext      string
	DatalinkContext  string

	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     *observability.Tracer
	Metrics    *observability.Metrics
}

// Handler sends requests to a single TAP service and carries the session
// cookie between them. It is not safe for concurrent use.
type Handler struct {
	protocol  string
	host      string
	port      int
	sslPort   int
	contexts  map[Context]string
	cookie    string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
	tracer    *observability.Tracer
}

// New creates a Handler from cfg.
func New(cfg Config) (*Handler, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("conn: host is required")
	}
	protocol := strings.ToLower(cfg.Protocol)
	switch protocol {
	case "":
		protocol = "http"
	case "http", "https":
	default:
		return nil, fmt.Errorf("conn: unsupported protocol %q", cfg.Protocol)
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort(protocol)
	}
	sslPort := cfg.SSLPort
	if sslPort == 0 {
		sslPort = 443
	}

	server := normalizeContext(cfg.ServerContext)
	h := &Handler{
		protocol:  protocol,
		host:      cfg.Host,
		port:      port,
		sslPort:   sslPort,
		userAgent: cfg.UserAgent,
		contexts: map[Context]string{
			Server:    server,
			Tap:       server + normalizeContext(cfg.TapContext),
			Upload:    server + normalizeContext(orDefault(cfg.UploadContext, "Upload")),
			TableEdit: server + normalizeContext(orDefault(cfg.TableEditContext, "TableTool")),
			Data:      server + normalizeContext(orDefault(cfg.DataContext, "data")),
			Datalink:  server + normalizeContext(orDefault(cfg.DatalinkContext, "datalink")),
		},
		client: newClient(cfg.HTTPClient, cfg.Metrics),
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.tracer == nil {
		h.tracer = observability.NewNoopTracer()
	}
	return h, nil
}

// newClient returns a client that never follows redirects and leaves
// compressed bodies untouched.
func newClient(base *http.Client, metrics *observability.Metrics) *http.Client {
	var c http.Client
	if base != nil {
		c = *base
	} else {
		transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			transport = dt.Clone()
		}
		transport.DisableCompression = true
		c.Transport = transport
	}
	c.Transport = metrics.InstrumentTransport(c.Transport)
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func defaultPort(protocol string) int {
	if protocol == "https" {
		return 443
	}
	return 80
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func normalizeContext(c string) string {
	c = strings.TrimRight(c, "/")
	if c == "" || strings.HasPrefix(c, "/") {
		return c
	}
	return "/" + c
}

// Protocol returns "http" or "https".
func (h *Handler) Protocol() string { return h.protocol }

// Host returns the service host.
func (h *Handler) Host() string { return h.host }

// Port returns the plain port.
func (h *Handler) Port() int { return h.port }

// SSLPort returns the port used for secure calls.
func (h *Handler) SSLPort() int { return h.sslPort }

// ContextPath returns the base path of the given context.
func (h *Handler) ContextPath(c Context) string { return h.contexts[c] }

// URL returns the absolute URL of subpath under context c.
func (h *Handler) URL(c Context, subpath string) string {
	return h.buildURL(h.protocol, h.port, c, subpath)
}

func (h *Handler) buildURL(protocol string, port int, c Context, subpath string) string {
	u := protocol + "://" + net.JoinHostPort(h.host, strconv.Itoa(port)) + h.contexts[c]
	if subpath != "" {
		u += "/" + strings.TrimLeft(subpath, "/")
	}
	return u
}

// SetCookie stores the session cookie sent with every later request.
func (h *Handler) SetCookie(cookie string) { h.cookie = cookie }

// Cookie returns the current session cookie.
func (h *Handler) Cookie() string { return h.cookie }

// ClearCookie forgets the session cookie.
func (h *Handler) ClearCookie() { h.cookie = "" }

func (h *Handler) String() string {
	return fmt.Sprintf("Host: %s\n\tUse HTTPS: %t\n\tPort: %d\n\tSSL Port: %d",
		h.host, h.protocol == "https", h.port, h.sslPort)
}
