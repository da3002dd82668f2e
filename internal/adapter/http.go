package adapter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/algo-portfolio/internal/errors"
)

// StatusError is a non-2xx upstream response
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether the status suggests trying another endpoint
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// getJSON performs a GET and decodes a 2xx JSON body into out
func getJSON(ctx context.Context, client *http.Client, service, endpoint string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() == nil && stderrors.As(err, &netErr) && netErr.Timeout() {
			timeoutErr := apperrors.NewProviderTimeoutError(service)
			timeoutErr.Cause = err
			return timeoutErr
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
