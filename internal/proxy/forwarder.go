package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a whole forwarded exchange, including reading
// the backend's response body.
const DefaultTimeout = 30 * time.Second

// BackendUnavailableError reports that the outbound call to a backend
// failed before a response head arrived. It is per-request: the health
// monitor alone decides endpoint eviction, so one flaky request never
// removes an otherwise healthy backend from rotation.
type BackendUnavailableError struct {
	Endpoint string
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Endpoint, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// NewClient builds the outbound HTTP client used for forwarding:
// redirects are surfaced to the caller rather than followed, and the
// timeout covers the full exchange.
func NewClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// TargetURL joins an endpoint base URL and a request path with a single
// slash and appends the raw query verbatim when present.
func TargetURL(base, path, rawQuery string) string {
	target := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forwarder relays requests to a resolved backend and streams the
// response back without buffering the body.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

func New(client *http.Client, logger *slog.Logger) *Forwarder {
	if client == nil {
		client = NewClient(http.DefaultTransport, DefaultTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Forwarder{
		client: client,
		logger: logger,
	}
}

// Forward issues the inbound request against the given endpoint base
// URL and relays status, headers and body back to the caller as chunks
// arrive. The inbound method, headers and body stream pass through
// unmodified; CORS headers overwrite backend headers on collision.
// Failure to reach the backend returns a *BackendUnavailableError; an
// error after the response head has been written is returned as-is
// since the status line is already on the wire.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, base string) error {
	target := TargetURL(base, r.URL.Path, r.URL.RawQuery)

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return &BackendUnavailableError{Endpoint: base, Err: err}
	}
	out.Header = r.Header.Clone()
	out.ContentLength = r.ContentLength

	res, err := f.client.Do(out)
	if err != nil {
		f.logger.Debug("outbound request failed",
			slog.String("target", target),
			slog.Any("err", err))
		return &BackendUnavailableError{Endpoint: base, Err: err}
	}
	defer res.Body.Close()

	headers := w.Header()
	for key, values := range res.Header {
		for _, value := range values {
			headers.Add(key, value)
		}
	}
	ApplyCORS(headers)

	w.WriteHeader(res.StatusCode)

	return f.relay(w, res.Body)
}

// relay streams the backend body to the client one chunk at a time,
// flushing after every write so chunked and event-stream responses
// arrive live. Memory is bounded to a single chunk.
func (f *Forwarder) relay(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
