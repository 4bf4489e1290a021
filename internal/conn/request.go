package conn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tapkit/internal/adql"
	"tapkit/internal/domain"
	"tapkit/internal/observability"
	"tapkit/internal/params"
)

// FormContentType is the default body type of POST requests.
const FormContentType = "application/x-www-form-urlencoded"

// File is one file part of a multipart upload.
type File struct {
	Field    string
	Filename string
	Content  []byte
}

// Get issues a GET for subpath under context c. Non-2xx statuses are not
// errors; callers inspect the response.
func (h *Handler) Get(ctx context.Context, c Context, subpath string, query *params.Builder) (*http.Response, error) {
	u := h.URL(c, subpath)
	if q := query.Encode(); q != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q
	}
	return h.send(ctx, c, http.MethodGet, u, nil, "")
}

// Post sends body to subpath under context c. An empty contentType means a
// URL-encoded form.
func (h *Handler) Post(ctx context.Context, c Context, subpath string, body []byte, contentType string) (*http.Response, error) {
	if contentType == "" {
		contentType = FormContentType
	}
	return h.send(ctx, c, http.MethodPost, h.URL(c, subpath), bytes.NewReader(body), contentType)
}

// PostForm sends form as a URL-encoded body.
func (h *Handler) PostForm(ctx context.Context, c Context, subpath string, form *params.Builder) (*http.Response, error) {
	return h.Post(ctx, c, subpath, []byte(form.Encode()), FormContentType)
}

// PostMultipart sends fields and files as one multipart/form-data body.
func (h *Handler) PostMultipart(ctx context.Context, c Context, subpath string, fields *params.Builder, files []File) (*http.Response, error) {
	body, contentType, err := EncodeMultipart(fields, files)
	if err != nil {
		return nil, err
	}
	return h.Post(ctx, c, subpath, body, contentType)
}

// PostSecure sends form over HTTPS on the SSL port, under the tap context.
func (h *Handler) PostSecure(ctx context.Context, subpath string, form *params.Builder) (*http.Response, error) {
	u := h.buildURL("https", h.sslPort, Tap, subpath)
	return h.send(ctx, Tap, http.MethodPost, u, strings.NewReader(form.Encode()), FormContentType)
}

// EncodeMultipart builds a multipart/form-data body with a random boundary.
func EncodeMultipart(fields *params.Builder, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary("tapkit-" + uuid.NewString()); err != nil {
		return nil, "", fmt.Errorf("set multipart boundary: %w", err)
	}
	var werr error
	fields.Each(func(k, v string) {
		if werr == nil {
			werr = w.WriteField(k, v)
		}
	})
	if werr != nil {
		return nil, "", fmt.Errorf("write multipart field: %w", werr)
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("create multipart file %q: %w", f.Field, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("write multipart file %q: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (h *Handler) send(ctx context.Context, c Context, method, u string, body io.Reader, contentType string) (*http.Response, error) {
	ctx, span := h.tracer.StartRequest(ctx, method, u, c.String())
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if h.cookie != "" {
		req.Header.Set("Cookie", h.cookie)
	}

	h.logger.Debug("tap request", "method", method, "url", u, "context", c.String())
	resp, err := h.client.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	observability.SetHTTPStatus(span, resp.StatusCode)
	h.logger.Debug("tap response", "status", resp.StatusCode, "url", u)
	return resp, nil
}

// CheckStatus reports whether the response status differs from expected.
func CheckStatus(resp *http.Response, expected int) bool {
	return resp.StatusCode != expected
}

// Reason returns the reason phrase of the status line.
func Reason(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// FindHeader returns the first value of name, trying the exact key before a
// case-insensitive match.
func FindHeader(header http.Header, name string) (string, bool) {
	values := FindAllHeaders(header, name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// FindAllHeaders returns every value of name.
func FindAllHeaders(header http.Header, name string) []string {
	if v, ok := header[name]; ok {
		return v
	}
	for k, v := range header {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// SessionCookie extracts the session item from the Set-Cookie headers,
// preferring SESSION over JSESSIONID.
func SessionCookie(header http.Header) (string, bool) {
	values := FindAllHeaders(header, "Set-Cookie")
	for _, prefix := range []string{"SESSION=", "JSESSIONID="} {
		for _, v := range values {
			for _, item := range strings.Split(v, ";") {
				item = strings.TrimSpace(item)
				if strings.HasPrefix(item, prefix) {
					return item, true
				}
			}
		}
	}
	return "", false
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// UnexpectedStatus builds the RemoteError for a response that carried body.
func UnexpectedStatus(resp *http.Response, body []byte) *domain.RemoteError {
	return domain.ErrRemote(resp.StatusCode, Reason(resp), adql.ErrorMessage(string(body)))
}

// ConsumeError reads resp and returns it as a RemoteError.
func ConsumeError(resp *http.Response) error {
	body, err := ReadBody(resp)
	if err != nil {
		return err
	}
	return UnexpectedStatus(resp, body)
}

// DumpToFile streams r into a new file at path.
func DumpToFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
