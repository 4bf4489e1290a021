package conn

import (
	"strconv"
	"strings"

	"tapkit/internal/domain"
)

// ParseURL splits a service URL into protocol, host, port and contexts.
// The last path segment becomes the tap context and the ones before it the
// server context; a single segment is the server context alone.
func ParseURL(raw string) (Config, error) {
	var cfg Config
	pos := strings.Index(raw, "://")
	if pos < 0 {
		return cfg, domain.ErrValidation("invalid URL format: %q", raw)
	}
	cfg.Protocol = "http"
	if strings.HasPrefix(raw, "https://") {
		cfg.Protocol = "https"
	}

	items := strings.Split(strings.TrimRight(raw[pos+3:], "/"), "/")
	hostPort := items[0]
	if p := strings.Index(hostPort, ":"); p > 0 {
		port, err := strconv.Atoi(hostPort[p+1:])
		if err != nil {
			return cfg, domain.ErrValidation("invalid port in URL %q", raw)
		}
		cfg.Host = hostPort[:p]
		cfg.Port = port
	} else {
		cfg.Host = hostPort
		cfg.Port = defaultPort(cfg.Protocol)
	}
	if cfg.Host == "" {
		return cfg, domain.ErrValidation("missing host in URL %q", raw)
	}
	if cfg.Protocol == "https" {
		cfg.SSLPort = cfg.Port
	}

	switch n := len(items); {
	case n == 1:
	case n == 2:
		cfg.ServerContext = "/" + items[1]
	default:
		cfg.ServerContext = "/" + strings.Join(items[1:n-1], "/")
		cfg.TapContext = "/" + items[n-1]
	}
	return cfg, nil
}
