package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrUnexpectedStatus is wrapped by errors for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected response status")

const defaultTimeout = 2 * time.Second

// caller issues bounded GET requests with fiber's fasthttp agent.
type caller struct {
	baseURL string
	timeout time.Duration
}

func newCaller(baseURL string, timeout time.Duration) caller {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return caller{baseURL: baseURL, timeout: timeout}
}

// timeoutFor returns the configured timeout shortened to ctx's deadline.
func (c caller) timeoutFor(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	return timeout, nil
}

func (c caller) get(ctx context.Context, path string, headers map[string]string) (int, []byte, error) {
	timeout, err := c.timeoutFor(ctx)
	if err != nil {
		return 0, nil, err
	}

	agent := fiber.Get(c.baseURL + path)
	for key, value := range headers {
		agent.Set(key, value)
	}
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return 0, nil, fmt.Errorf("prepare request: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, nil, fmt.Errorf("GET %s: %w", path, errors.Join(errs...))
	}
	return status, body, nil
}

func decodeData[T any](body []byte) (T, error) {
	var envelope struct {
		Data *T `json:"data"`
	}
	var zero T
	if err := json.Unmarshal(body, &envelope); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Data == nil {
		return zero, errors.New("decode response: missing data")
	}
	return *envelope.Data, nil
}
