// Package taptest provides an in-process fake TAP service that records the
// requests it receives.
package taptest

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"tapkit/internal/conn"
)

// Paths of the fake service contexts.
const (
	ServerContext = "/tap-server"
	TapContext    = "/tap"
	TapPath       = ServerContext + TapContext
	UploadPath    = ServerContext + "/Upload"
	TableEditPath = ServerContext + "/TableTool"
	DataPath      = ServerContext + "/data"
	DatalinkPath  = ServerContext + "/datalink"
)

// Request is a recorded request.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Form     url.Values
	Files    map[string][]byte
}

// Server is a fake TAP service backed by a chi router.
type Server struct {
	*httptest.Server
	router chi.Router

	mu       sync.Mutex
	requests []Request
}

// New starts a plain HTTP fake service, closed when the test ends.
func New(t testing.TB) *Server {
	return start(t, false)
}

// NewTLS starts a fake service over HTTPS.
func NewTLS(t testing.TB) *Server {
	return start(t, true)
}

func start(t testing.TB, tls bool) *Server {
	t.Helper()
	s := &Server{router: chi.NewRouter()}
	s.router.Use(s.record)
	if tls {
		s.Server = httptest.NewTLSServer(s.router)
	} else {
		s.Server = httptest.NewServer(s.router)
	}
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for method and an absolute chi pattern.
func (s *Server) Handle(method, pattern string, h http.HandlerFunc) {
	s.router.MethodFunc(method, pattern, h)
}

// HandleTap registers h for a pattern under the tap context.
func (s *Server) HandleTap(method, pattern string, h http.HandlerFunc) {
	s.Handle(method, TapPath+"/"+strings.TrimLeft(pattern, "/"), h)
}

// Config returns a connection config pointing at the server.
func (s *Server) Config() conn.Config {
	u, _ := url.Parse(s.URL)
	port, _ := strconv.Atoi(u.Port())
	return conn.Config{
		Protocol:      u.Scheme,
		Host:          u.Hostname(),
		Port:          port,
		SSLPort:       port,
		ServerContext: ServerContext,
		TapContext:    TapContext,
		HTTPClient:    s.Client(),
	}
}

// Handler returns a connection handler for the server.
func (s *Server) Handler(t testing.TB) *conn.Handler {
	t.Helper()
	h, err := conn.New(s.Config())
	if err != nil {
		t.Fatalf("create handler: %v", err)
	}
	return h
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request to path.
func (s *Server) Last(path string) (Request, bool) {
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return Request{}, false
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		rec := Request{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     body,
		}
		rec.Form, rec.Files = parseBody(r.Header.Get("Content-Type"), body)

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func parseBody(contentType string, body []byte) (url.Values, map[string][]byte) {
	mediaType, ps, err := mime.ParseMediaType(contentType)
	if err != nil {
		return url.Values{}, nil
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, _ := url.ParseQuery(string(body))
		return form, nil
	case "multipart/form-data":
		form := url.Values{}
		files := map[string][]byte{}
		mr := multipart.NewReader(bytes.NewReader(body), ps["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			if part.FileName() != "" {
				files[part.FormName()] = data
				continue
			}
			form.Add(part.FormName(), string(data))
		}
		return form, files
	}
	return url.Values{}, nil
}

// Respond returns a handler writing status and body. Headers are given as
// name, value pairs.
func Respond(status int, body string, headers ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for i := 0; i+1 < len(headers); i += 2 {
			w.Header().Add(headers[i], headers[i+1])
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// Redirect returns a handler answering 303 with the given Location.
func Redirect(location string) http.HandlerFunc {
	return Respond(http.StatusSeeOther, "", "Location", location)
}
