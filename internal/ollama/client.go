package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrServiceUnavailable indicates that the model backend could not be
// reached. Callers use it to distinguish "no models" from "registry down".
var ErrServiceUnavailable = errors.New("model service unavailable")

// NoResponsePlaceholder is returned as the reply when the backend answers
// successfully but omits the message content. An empty reply is still a valid
// conversational turn, so this is not an error.
const NoResponsePlaceholder = "模型未响应"

const (
	DefaultChatTimeout = 600 * time.Second

	probeTimeout = 5 * time.Second

	// A timed out chat request is attempted this many times in total.
	chatAttempts = 3
)

type Client struct {
	client *resty.Client

	chatTimeout   time.Duration
	retryPause    time.Duration
	overloadPause time.Duration
}

type Option func(*Client)

func WithChatTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.chatTimeout = timeout
	}
}

// NewClient creates a client for an Ollama style backend. baseURL must point
// at the api root (e.g. http://localhost:11434/api) and carry an explicit
// scheme, a malformed value is a configuration error surfaced at startup.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("ollama base url '%s' must start with http:// or https://", baseURL)
	}

	client := &Client{
		client:        resty.New().SetBaseURL(baseURL),
		chatTimeout:   DefaultChatTimeout,
		retryPause:    time.Second,
		overloadPause: 2 * time.Second,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Chat sends the full message history to the backend and returns the reply
// text. Timed out requests are retried up to 2 extra times with a short
// pause. A 503 from an overloaded backend is ridden out with a longer pause
// and no attempt cap, bounded only by ctx. Any other HTTP error propagates
// immediately.
func (c *Client) Chat(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	payload := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  chatOptions{Temperature: 0.7, TopP: 0.9},
	}

	timeouts := 0
	for {
		var out chatResponse

		attemptCtx, cancel := context.WithTimeout(ctx, c.chatTimeout)
		resp, err := c.client.R().
			SetContext(attemptCtx).
			SetBody(payload).
			SetResult(&out).
			Post("/chat")
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if isTimeout(err) {
				timeouts++
				if timeouts >= chatAttempts {
					return "", fmt.Errorf("chat request to model '%s' timed out after %d attempts: %w", model, timeouts, err)
				}
				if err := sleep(ctx, c.retryPause); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("error sending chat request: %w", err)
		}

		if resp.StatusCode() == http.StatusServiceUnavailable {
			slog.Warn("model backend overloaded, retrying", "model", model)
			if err := sleep(ctx, c.overloadPause); err != nil {
				return "", err
			}
			continue
		}

		if resp.IsError() {
			return "", fmt.Errorf("chat request failed with status %s", resp.Status())
		}

		if out.Message.Content == "" {
			return NoResponsePlaceholder, nil
		}
		return out.Message.Content, nil
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the identifiers currently served by the backend.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var out tagsResponse

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := c.client.R().SetContext(probeCtx).SetResult(&out).Get("/tags")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %s", ErrServiceUnavailable, resp.Status())
	}

	names := make([]string, 0, len(out.Models))
	for _, model := range out.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

// ValidateModel probes the backend for the given model. It fails closed: an
// unreachable registry reads as "not available".
func (c *Client) ValidateModel(ctx context.Context, name string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := c.client.R().
		SetContext(probeCtx).
		SetBody(map[string]string{"name": name}).
		Post("/show")
	if err != nil {
		slog.Warn("model existence probe failed", "model", name, "error", err)
		return false
	}

	return resp.StatusCode() == http.StatusOK
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
