// Package httputil provides the HTTP plumbing shared by the detection
// core: timeout-tiered clients over one pooled transport, bounded body
// reading, and a semaphore capping in-flight LLM escalation calls.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds body reads when the caller passes no explicit
// cap, so a broken or hostile backend cannot exhaust memory.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// One transport for the whole process. Escalation traffic hits a single
// provider host, so pooled connections are reused on nearly every call.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier selects a whole-request deadline class.
type TimeoutTier int

const (
	// TierFast (5s) is the escalation-call tier: a classification that
	// takes longer than this is worth less than the rule verdict we
	// already hold.
	TierFast TimeoutTier = iota
	// TierMedium (30s) for ordinary API calls.
	TierMedium
	// TierSlow (60s) for self-hosted models on modest hardware.
	TierSlow
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

var (
	clientFast   *http.Client
	clientMedium *http.Client
	clientSlow   *http.Client
	clientOnce   sync.Once
)

func initClients() {
	clientFast = &http.Client{Timeout: timeoutDurations[TierFast], Transport: sharedTransport}
	clientMedium = &http.Client{Timeout: timeoutDurations[TierMedium], Transport: sharedTransport}
	clientSlow = &http.Client{Timeout: timeoutDurations[TierSlow], Transport: sharedTransport}
}

// Client returns the shared client for a tier. All tiers share the pooled
// transport; use these instead of constructing per-request clients.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierFast:
		return clientFast
	case TierMedium:
		return clientMedium
	case TierSlow:
		return clientSlow
	default:
		return clientMedium
	}
}

// ReadResponseBody reads a body up to maxSize bytes; zero or negative
// means MaxResponseSize. Bytes past the cap are silently dropped.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads a non-200 body for inclusion in an error message,
// capped at 1MB.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool. Safe on nil.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
