package backend

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NewHTTPClient builds the transport shared by every backend call. Its
// cookie jar is where the refresh credential lives; application code never
// reads it.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("[backend NewHTTPClient] cookie jar: %w", err)
	}
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
	}, nil
}
