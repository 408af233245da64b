package shared

import (
	"net/http"
	"time"
)

// NewPooledHTTPClient creates an http.Client with connection pooling for
// calls to the embedding, vector index and local model services.
// A zero timeout leaves the client unbounded, response headers included:
// streaming and single-shot generation callers rely on that.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
