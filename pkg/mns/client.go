package mns

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// CodeMessageNotExist is the error code returned when there is no message to receive or delete.
const CodeMessageNotExist = "MessageNotExist"

// Error is an error-coded response from the queue service.
type Error struct {
	StatusCode int    `xml:"-"`
	Code       string `xml:"Code"`
	Message    string `xml:"Message"`
	RequestID  string `xml:"RequestId"`
	HostID     string `xml:"HostId"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mns: status %d, code %s: %s (request %s)", e.StatusCode, e.Code, e.Message, e.RequestID)
}

// ClientConfig holds the queue service endpoint and credentials.
type ClientConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	// Timeout bounds a single HTTP exchange. It must exceed any long-poll wait.
	Timeout time.Duration
}

// Client sends signed requests to the queue service.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates a queue client. A nil httpClient selects one bounded by cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mns endpoint is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		now:        time.Now,
		logger:     logger.With().Str("component", "MNSClient").Logger(),
	}, nil
}

// WithClock replaces the clock used for the Date header.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) newRequest(method, queue string, params url.Values) (*Request, error) {
	return NewRequest(RequestOptions{
		Method:          method,
		Endpoint:        c.cfg.Endpoint,
		Path:            "/queues/" + queue + "/messages",
		AccessKeyID:     c.cfg.AccessKeyID,
		AccessKeySecret: c.cfg.AccessKeySecret,
	}, nil, params)
}

// Receive fetches at most one message. waitSeconds, when set, asks the service to long-poll.
// A nil message with a nil error means the queue had nothing to deliver.
func (c *Client) Receive(ctx context.Context, queue string, waitSeconds *int) (*Message, error) {
	params := url.Values{}
	if waitSeconds != nil {
		params.Set("waitseconds", strconv.Itoa(*waitSeconds))
	}
	req, err := c.newRequest(http.MethodGet, queue, params)
	if err != nil {
		return nil, err
	}

	body, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return NewMessage(queue, body)
}

// Delete acknowledges a message. It reports false, without error, when the service no longer
// knows the receipt handle, so repeated acknowledgement is harmless.
func (c *Client) Delete(ctx context.Context, queue, receiptHandle string) (bool, error) {
	params := url.Values{}
	params.Set("ReceiptHandle", receiptHandle)
	req, err := c.newRequest(http.MethodDelete, queue, params)
	if err != nil {
		return false, err
	}

	body, err := c.execute(ctx, req)
	if err != nil {
		return false, err
	}
	return body != nil, nil
}

// Send enqueues a message body.
func (c *Client) Send(ctx context.Context, queue, body string, priority int) (string, error) {
	req, err := c.newRequest(http.MethodPost, queue, nil)
	if err != nil {
		return "", err
	}
	fields := []Field{{Name: "MessageBody", Value: body}}
	if priority > 0 {
		fields = append(fields, Field{Name: "Priority", Value: strconv.Itoa(priority)})
	}
	if err := req.SetContent("Message", fields); err != nil {
		return "", err
	}

	resp, err := c.execute(ctx, req)
	if err != nil {
		return "", err
	}
	var sent struct {
		MessageID string `xml:"MessageId"`
	}
	if resp != nil {
		if err := xml.Unmarshal(resp, &sent); err != nil {
			return "", fmt.Errorf("failed to parse send response: %w", err)
		}
	}
	return sent.MessageID, nil
}

// execute performs the exchange. It returns a nil body and nil error for MessageNotExist.
func (c *Client) execute(ctx context.Context, r *Request) ([]byte, error) {
	req, err := r.Build(ctx, c.now())
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("method", r.Method).Str("uri", r.URL.String()).Msg("Sending MNS request.")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mns %s %s: %w", r.Method, r.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read mns response: %w", err)
	}
	if resp.StatusCode < http.StatusBadRequest {
		if len(body) == 0 {
			// Successful responses without a document still count as "something happened".
			return []byte{}, nil
		}
		return body, nil
	}

	mnsErr := &Error{StatusCode: resp.StatusCode}
	if xmlErr := xml.Unmarshal(body, mnsErr); xmlErr == nil && mnsErr.Code == CodeMessageNotExist {
		return nil, nil
	}
	c.logger.Error().
		Int("status", resp.StatusCode).
		Str("code", mnsErr.Code).
		Str("request_id", mnsErr.RequestID).
		Bytes("response", body).
		Msg("MNS request failed.")
	if mnsErr.Message == "" {
		mnsErr.Message = http.StatusText(resp.StatusCode)
	}
	return nil, mnsErr
}
