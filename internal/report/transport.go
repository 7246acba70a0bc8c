package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/sweeney/mailbox-node/internal/logic"
)

var (
	// ErrWouldBlock marks a write the network could not take yet. It is
	// the only error the reporter retries.
	ErrWouldBlock = errors.New("report: would block")

	// ErrRejected is returned when the endpoint answers with a non-2xx status.
	ErrRejected = errors.New("report: rejected by endpoint")
)

// Body is the JSON document sent for each transition.
type Body struct {
	IRS string `json:"irs"`
}

// FormatBody renders the request body for s, e.g. {"irs":"1011"}.
func FormatBody(s logic.Snapshot) ([]byte, error) {
	return json.Marshal(Body{IRS: s.Code()})
}

// Transport delivers one encoded body.
type Transport interface {
	Put(ctx context.Context, body []byte) error
}

// HTTPTransport PUTs the body to a fixed URL. Redirects are not followed
// and connections are kept alive between reports.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport creates a transport with the given per-request timeout.
func NewHTTPTransport(url string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        2,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: timeout,
			},
		},
	}
}

// URL returns the endpoint.
func (t *HTTPTransport) URL() string {
	return t.url
}

// Put sends body. Socket-level would-block conditions are reported as
// ErrWouldBlock; any non-2xx status as ErrRejected.
func (t *HTTPTransport) Put(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if isWouldBlock(err) {
			return fmt.Errorf("put %s: %w: %w", t.url, ErrWouldBlock, err)
		}
		return fmt.Errorf("put %s: %w", t.url, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("put %s: %w: status %d", t.url, ErrRejected, resp.StatusCode)
	}
	return nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
