// Package testclient provides an in-process HTTP client for exercising the
// replay server's mux.Router directly, without opening a real socket. It
// talks to the router through httptest.NewRecorder, which makes assertions
// on status codes, headers, and response bodies fast and deterministic.
package testclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/mux"
)

// Client issues requests against an in-process mux.Router.
type Client struct {
	router *mux.Router
	ctx    context.Context
}

// New creates a client bound to router.
func New(router *mux.Router) Client {
	return Client{router: router}
}

// WithContext returns a new client that issues requests carrying ctx,
// instead of context.Background(). Used to simulate a request arriving with
// a particular project mode or logger already attached.
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c Client) do(method, path string, header map[string]string, body []byte) (*httptest.ResponseRecorder, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	r, err := http.NewRequestWithContext(c.context(), method, path, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, r)
	return rec, nil
}

// Get issues a GET to path, decoding a JSON response body into result if it
// is non-nil. Returns the status code.
func (c Client) Get(path string, result interface{}) (int, error) {
	return c.GetWithHeader(path, nil, result)
}

// GetWithHeader is Get with extra request headers, returning the response
// header too. Used for conditional requests (If-None-Match) and range
// requests against archived revisions.
func (c Client) GetWithHeader(path string, header map[string]string, result interface{}) (int, error) {
	rec, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return 0, err
	}
	return c.decode(rec, result)
}

// GetRaw issues a GET and returns the raw recorder, for assertions on
// headers or binary bodies the caller doesn't want unmarshalled.
func (c Client) GetRaw(path string, header map[string]string) (*httptest.ResponseRecorder, error) {
	return c.do(http.MethodGet, path, header, nil)
}

// Post issues a POST with a JSON-encoded body, decoding the response into
// result if non-nil.
func (c Client) Post(path string, body interface{}, result interface{}) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	rec, err := c.do(http.MethodPost, path, map[string]string{"Content-Type": "application/json"}, encoded)
	if err != nil {
		return 0, err
	}
	return c.decode(rec, result)
}

// Put issues a PUT with a JSON-encoded body, decoding the response into
// result if non-nil.
func (c Client) Put(path string, body interface{}, result interface{}) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	rec, err := c.do(http.MethodPut, path, map[string]string{"Content-Type": "application/json"}, encoded)
	if err != nil {
		return 0, err
	}
	return c.decode(rec, result)
}

// Delete issues a DELETE.
func (c Client) Delete(path string) (int, error) {
	rec, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return 0, err
	}
	return rec.Code, nil
}

func (c Client) decode(rec *httptest.ResponseRecorder, result interface{}) (int, error) {
	status := rec.Code
	body := rec.Body.Bytes()
	if status >= 400 {
		return status, fmt.Errorf("request failed: status %d: %s", status, strings.TrimSpace(string(body)))
	}
	if result != nil && len(body) > 0 {
		if raw, ok := result.(*[]byte); ok {
			*raw = body
		} else if err := json.Unmarshal(body, result); err != nil {
			return status, err
		}
	}
	return status, nil
}
