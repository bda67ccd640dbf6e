package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ent0n29/barbercall/internal/reliability"
)

const (
	defaultTimeout    = 30 * time.Second
	retryBaseDelay    = 200 * time.Millisecond
	retryMaxDelay     = 2 * time.Second
	maxErrorBodyBytes = 4 << 10
	maxResponseBytes  = 1 << 20
)

// HTTPClient calls the booking backend's REST API.
type HTTPClient struct {
	base       *url.URL
	client     *http.Client
	maxRetries int
}

func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		base:       base,
		client:     &http.Client{Timeout: timeout},
		maxRetries: retries,
	}, nil
}

func (c *HTTPClient) endpoint(path string) string {
	return c.base.JoinPath(path).String()
}

func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, "health", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("health"), nil)
	})
	return err
}

func (c *HTTPClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="recording.wav"`)
	hdr.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write multipart audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}
	payload := body.Bytes()
	contentType := mw.FormDataContentType()

	res, err := c.do(ctx, "transcribe", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("transcribe"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	text, err := decodeText(res, "text", "transcription")
	if err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *HTTPClient) Reply(ctx context.Context, in ReplyRequest) (ReplyResponse, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return ReplyResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	res, err := c.do(ctx, "chat", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return ReplyResponse{}, err
	}
	text, err := decodeText(res, "response", "reply", "text", "message")
	if err != nil {
		return ReplyResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	return ReplyResponse{Text: strings.TrimSpace(text)}, nil
}

// do sends the request built by newReq, retrying retryable statuses and
// transport failures. It returns the successful response body.
func (c *HTTPClient) do(ctx context.Context, op string, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	backoff := retry.WithMaxRetries(uint64(c.maxRetries),
		retry.WithCappedDuration(retryMaxDelay, retry.NewExponential(retryBaseDelay)))

	var out []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := newReq(ctx)
		if err != nil {
			return fmt.Errorf("create %s request: %w", op, err)
		}
		res, err := c.client.Do(req)
		if err != nil {
			err = fmt.Errorf("send %s request: %w", op, err)
			if reliability.IsRetryableError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
			statusErr := &StatusError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
			if reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}

		body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read %s response: %w", op, err)
		}
		out = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeText pulls the first non-empty string under one of keys. Plain text
// bodies are accepted as-is.
func decodeText(body []byte, keys ...string) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", err
	}
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	if msg, ok := obj["error"].(string); ok && msg != "" {
		return "", errors.New(msg)
	}
	return "", nil
}
