package crawl

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// NormalizeURL lowercases scheme and host, drops default ports and the
// fragment, and sorts the query.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	normalize(u)
	return u.String(), nil
}

func normalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
}

// resolveLink turns an href found on base into an absolute http(s) URL.
func resolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	normalize(abs)
	return abs, true
}

var pageExtensions = map[string]bool{
	"": true, ".html": true, ".htm": true, ".php": true,
	".asp": true, ".aspx": true, ".jsp": true, ".shtml": true,
}

// isPageLink reports whether a link looks like an HTML page worth following
// rather than a file download.
func isPageLink(u *url.URL) bool {
	return pageExtensions[strings.ToLower(path.Ext(u.Path))]
}

// hostOf returns the lowercase hostname without a leading "www.".
func hostOf(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
