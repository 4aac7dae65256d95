package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSCarrierClient posts to a generic carrier REST endpoint.
type SMSCarrierClient struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
	br      *MicroBreaker
}

func NewSMSCarrierClient(name, baseURL, token string, timeout time.Duration, br *MicroBreaker) *SMSCarrierClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &SMSCarrierClient{
		name:    name,
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		br:      br,
	}
}

func (c *SMSCarrierClient) Name() string { return c.name }

type smsSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

func (c *SMSCarrierClient) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if !c.br.TryAcquire() {
		return SendResult{}, ErrBreakerOpen
	}

	res, err := c.post(ctx, req)
	if err != nil {
		if Retryable(err) {
			c.br.OnFailure()
		}
		return SendResult{}, err
	}

	c.br.OnSuccess()
	return res, nil
}

func (c *SMSCarrierClient) post(ctx context.Context, req SendRequest) (SendResult, error) {
	b, _ := json.Marshal(map[string]string{"to": req.To, "text": req.Body})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(b))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed smsSendResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return SendResult{}, &SendError{Code: CodeRateLimited, Message: parsed.Error, Temporary: true}
	case resp.StatusCode/100 == 5:
		return SendResult{}, &SendError{Code: CodeProviderError, Message: fmt.Sprintf("status=%d", resp.StatusCode), Temporary: true}
	case resp.StatusCode/100 != 2:
		code := CodeRejected
		if parsed.ErrorCode == "invalid_number" {
			code = CodeInvalidDestination
		}
		return SendResult{}, &SendError{Code: code, Message: parsed.Error, Temporary: false}
	}

	if parsed.MessageID == "" {
		return SendResult{}, &SendError{Code: CodeProviderError, Message: "response missing message id", Temporary: true}
	}
	return SendResult{ProviderMessageID: parsed.MessageID}, nil
}
