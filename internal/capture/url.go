package capture

import (
	"net/url"
	"os"
	"runtime"
	"strings"
)

// NormalizeURL turns user input into an absolute http(s) URL. Input without a
// scheme defaults to https; "//host" and "/path" are resolved against base.
func NormalizeURL(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", InputErrorf("url is required")
	}

	var baseURL *url.URL
	if b := strings.TrimSpace(base); b != "" {
		u, err := url.Parse(b)
		if err != nil || !httpScheme(u.Scheme) || u.Host == "" {
			return "", InputErrorf("invalid base url %q", base)
		}
		baseURL = u
	}

	switch {
	case strings.HasPrefix(raw, "//"):
		scheme := "https"
		if baseURL != nil {
			scheme = baseURL.Scheme
		}
		raw = scheme + ":" + raw
	case strings.HasPrefix(raw, "/"):
		if baseURL == nil {
			return "", InputErrorf("relative url %q needs a base url", raw)
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return "", InputErrorf("invalid url %q", raw)
		}
		raw = baseURL.ResolveReference(ref).String()
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", InputErrorf("invalid url %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !httpScheme(u.Scheme) {
		return "", InputErrorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", InputErrorf("url %q has no host", raw)
	}
	return u.String(), nil
}

func httpScheme(s string) bool {
	s = strings.ToLower(s)
	return s == "http" || s == "https"
}

var goos = runtime.GOOS

// DetectInteractive decides whether a human can drive the capture browser.
// mode is auto, always or never.
func DetectInteractive(mode string, headless bool, getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "never":
		return false
	case "always":
		return !headless
	}
	if headless {
		return false
	}
	if goos != "linux" {
		return true
	}
	return getenv("DISPLAY") != "" || getenv("WAYLAND_DISPLAY") != ""
}
