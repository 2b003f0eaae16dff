// Package download fetches archive resources over HTTP. It does not decide
// when to fetch; that is the scheduler's job. It only knows how to turn a
// URL and a cookie policy into either a body plus metadata, or an archived
// error.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHeaderTimeout bounds how long a fetch waits for response headers
// before giving up, per the spec's default of 10 seconds.
const DefaultHeaderTimeout = 10 * time.Second

// Outcome is the tagged result of a fetch: exactly one of Metadata+Body or
// Err is populated, modeling the archive's error-vs-body revision duality
// as a Go struct instead of a sentinel JSON string.
type Outcome struct {
	Metadata *Metadata
	Body     []byte
	Err      *Error
}

// Error is an archived fetch failure: a transient I/O error captured as an
// error revision rather than propagated as a Go error, per the spec's
// "transient I/O" error kind.
type Error struct {
	Type    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Type, e.Message) }

// Metadata is the archived response metadata for a successful fetch.
type Metadata struct {
	HTTPVersion  string
	StatusCode   int
	ReasonPhrase string
	Headers      [][2]string
}

// Progress is called as a fetch's body is read, with the cumulative number
// of bytes read so far. It is used to drive the replay server's SSE
// progress stream for in-flight downloads.
type Progress func(bytesRead int64)

// Fetcher issues archive fetches with a fixed User-Agent and header
// timeout. It is safe for concurrent use.
type Fetcher struct {
	UserAgent string
	client    *http.Client
}

// NewFetcher returns a Fetcher that never follows redirects at the
// transport layer — the spec requires the Location header be archived
// verbatim instead of transparently followed — and times out waiting for
// response headers after DefaultHeaderTimeout.
func NewFetcher(userAgent string) *Fetcher {
	return &Fetcher{
		UserAgent: userAgent,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 0, // no overall deadline; only response-header wait is bounded, via context
		},
	}
}

// Fetch issues a GET to url. If cookie is non-empty it is sent as the
// Cookie header. onProgress, if non-nil, is invoked as the body streams.
func (f *Fetcher) Fetch(ctx context.Context, url, cookie string, onProgress Progress) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{Err: &Error{Type: "InvalidURL", Message: err.Error()}}
	}
	req.Header.Set("User-Agent", f.UserAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	headerTimer := time.AfterFunc(DefaultHeaderTimeout, cancel)
	resp, err := f.client.Do(req)
	timedOut := !headerTimer.Stop()
	if err != nil {
		if timedOut {
			return Outcome{Err: &Error{Type: "Timeout", Message: err.Error()}}
		}
		return Outcome{Err: classifyError(err)}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if onProgress != nil {
		reader = &progressReader{r: resp.Body, onProgress: onProgress}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Outcome{Err: &Error{Type: "TruncatedRead", Message: err.Error()}}
	}

	return Outcome{
		Metadata: &Metadata{
			HTTPVersion:  resp.Proto,
			StatusCode:   resp.StatusCode,
			ReasonPhrase: http.StatusText(resp.StatusCode),
			Headers:      headerPairs(resp.Header),
		},
		Body: body,
	}
}

func classifyError(err error) *Error {
	typ := "NetworkError"
	if errors.Is(err, context.DeadlineExceeded) {
		typ = "Timeout"
	}
	return &Error{Type: typ, Message: err.Error()}
}

func headerPairs(h http.Header) [][2]string {
	var pairs [][2]string
	for name, values := range h {
		for _, v := range values {
			pairs = append(pairs, [2]string{name, v})
		}
	}
	return pairs
}

// progressReader wraps an io.Reader, reporting cumulative bytes read after
// every Read call, mirroring aistore's downloader progress-reporting
// reader.
type progressReader struct {
	r          io.Reader
	read       int64
	onProgress Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.onProgress(p.read)
	}
	return n, err
}
