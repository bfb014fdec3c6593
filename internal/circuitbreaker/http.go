package circuitbreaker

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper sends requests through a per-key breaker. 5xx responses count
// as failures; 4xx do not.
type HTTPWrapper struct {
	client   *http.Client
	breakers *Set
	logger   *zap.Logger
}

// NewHTTPWrapper creates a wrapper whose breakers share HTTPConfig().
func NewHTTPWrapper(client *http.Client, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWrapper{
		client:   client,
		breakers: NewSet(service, HTTPConfig(), logger),
		logger:   logger,
	}
}

// Do executes req under the breaker named key. When a 5xx trips accounting
// the response is still returned with a nil error.
func (w *HTTPWrapper) Do(key string, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.breakers.Get(key).Execute(req.Context(), func() error {
		var err error
		resp, err = w.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &StatusError{Code: resp.StatusCode}
		}
		return nil
	})
	if _, ok := err.(*StatusError); ok {
		return resp, nil
	}
	return resp, err
}

// Breakers exposes the underlying set for health reporting.
func (w *HTTPWrapper) Breakers() *Set { return w.breakers }

// StatusError marks a 5xx response for breaker accounting.
type StatusError struct{ Code int }

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.Code, http.StatusText(e.Code))
}
