// Package extractor pulls paginated JSON from HTTP APIs into local files.
//
// A Source describes one endpoint: where it lives and how its pagination
// works. The Extractor owns everything else: the HTTP session, rate limiting,
// retries and the on-disk layout of each page.
package extractor

import (
	"net/http"
	"net/url"
	"strings"
)

// Source describes a paginated API endpoint.
type Source interface {
	// Name is the data source name used as the first component of file names.
	Name() string
	// Endpoint is the API base URL, e.g. "https://api.example.com/v3/".
	Endpoint() string
	// RelativeURL is the resource path resolved against Endpoint.
	RelativeURL() string
	// IsLastPage reports whether page is the final page of the result set.
	IsLastPage(page any) bool
	// NextPagination returns the query parameters selecting the page after page.
	NextPagination(page any) url.Values
}

// HeaderSource is implemented by sources that need extra request headers (API keys).
type HeaderSource interface {
	Headers() http.Header
}

// Surname is the relative URL with slashes replaced by underscores.
func Surname(s Source) string {
	return strings.ReplaceAll(strings.Trim(s.RelativeURL(), "/"), "/", "_")
}

func mergeParams(static, pagination url.Values) url.Values {
	out := make(url.Values, len(static)+len(pagination))
	for k, v := range static {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range pagination {
		out[k] = append([]string(nil), v...)
	}
	return out
}
