package cli

import (
	"fmt"
	"net/url"
	"strings"
)

// validateServiceURL checks a TAP service URL given on the command line or
// in a profile. Unlike an API host it may carry context paths.
func validateServiceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("invalid url %q: service URL cannot be empty", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid url %q: url must not include query or fragment", raw)
	}
	return nil
}
