package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPRecorder talks to the external match-history service. No response
// body is interpreted beyond the status code; callers wrap it in Async so
// a slow or dead service never touches the event path.
type HTTPRecorder struct {
	baseURL string
	http    *fasthttp.Client

	timeout time.Duration
}

type HTTPOption func(*HTTPRecorder)

func WithTimeout(d time.Duration) HTTPOption {
	return func(r *HTTPRecorder) { r.timeout = d }
}

func WithMaxConnsPerHost(n int) HTTPOption {
	return func(r *HTTPRecorder) { r.http.MaxConnsPerHost = n }
}

func NewHTTPRecorder(baseURL string, opts ...HTTPOption) *HTTPRecorder {
	r := &HTTPRecorder{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HTTPRecorder) CreateMatch(ctx context.Context, rec MatchRecord) error {
	return r.doJSON(ctx, "/matches", rec)
}

func (r *HTTPRecorder) StartMatch(ctx context.Context, roomID string) error {
	return r.doJSON(ctx, "/matches/"+roomID+"/start", nil)
}

func (r *HTTPRecorder) FinishMatch(ctx context.Context, rec FinishRecord) error {
	return r.doJSON(ctx, "/matches/"+rec.RoomID+"/finish", rec)
}

func (r *HTTPRecorder) CancelMatch(ctx context.Context, roomID string) error {
	return r.doJSON(ctx, "/matches/"+roomID+"/cancel", nil)
}

func (r *HTTPRecorder) doJSON(ctx context.Context, path string, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(r.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	if err := r.http.DoDeadline(req, resp, r.computeDeadline(ctx)); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return fmt.Errorf("match history api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}
	return nil
}

func (r *HTTPRecorder) computeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
