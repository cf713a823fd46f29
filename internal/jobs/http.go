package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskgate/pkg/dispatch"
)

// HTTP issues one request per run. Any 2xx/3xx status is a success.
type HTTP struct {
	Name    string
	Method  string
	URL     string
	Body    string
	Timeout time.Duration
	Client  *http.Client
}

type HTTPResult struct {
	Status int
	Body   string
}

// StatusError reports a 4xx/5xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

func (j *HTTP) Task() *dispatch.Task {
	return dispatch.NewTask(j.Name, j.run)
}

func (j *HTTP) run(ctx context.Context) (any, error) {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	method := strings.ToUpper(strings.TrimSpace(j.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if j.Body != "" {
		body = strings.NewReader(j.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, j.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "taskgate")

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, outputLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, Body: tail(b, outputLimit)}
	}
	return HTTPResult{Status: resp.StatusCode, Body: tail(b, outputLimit)}, nil
}
