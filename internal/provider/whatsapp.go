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

// WhatsAppClient talks to a Graph-API style messages endpoint:
// POST {base}/{phone_number_id}/messages with a bearer token.
type WhatsAppClient struct {
	name          string
	baseURL       string
	phoneNumberID string
	token         string
	client        *http.Client
	br            *MicroBreaker
}

func NewWhatsAppClient(name, baseURL, phoneNumberID, token string, timeout time.Duration, br *MicroBreaker) *WhatsAppClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppClient{
		name:          name,
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		token:         token,
		client:        &http.Client{Timeout: timeout},
		br:            br,
	}
}

func (c *WhatsAppClient) Name() string { return c.name }

type waTextBody struct {
	Body string `json:"body"`
}

type waSendPayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             *waTextBody `json:"text,omitempty"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *WhatsAppClient) Send(ctx context.Context, req SendRequest) (SendResult, error) {
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

func (c *WhatsAppClient) post(ctx context.Context, req SendRequest) (SendResult, error) {
	payload := waSendPayload{
		MessagingProduct: "whatsapp",
		To:               req.To,
		Type:             "text",
		Text:             &waTextBody{Body: req.Body},
	}
	b, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed waSendResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode/100 != 2 {
		return SendResult{}, c.classify(resp.StatusCode, parsed)
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return SendResult{}, &SendError{Code: CodeProviderError, Message: "response missing message id", Temporary: true}
	}

	return SendResult{ProviderMessageID: parsed.Messages[0].ID}, nil
}

func (c *WhatsAppClient) classify(status int, parsed waSendResponse) error {
	msg := fmt.Sprintf("status=%d", status)
	var code int
	if parsed.Error != nil {
		msg = parsed.Error.Message
		code = parsed.Error.Code
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &SendError{Code: CodeRateLimited, Message: msg, Temporary: true}
	case status/100 == 5:
		return &SendError{Code: CodeProviderError, Message: msg, Temporary: true}
	// Graph error 131026: recipient cannot receive this message;
	// 132001: template does not exist or is not approved.
	case code == 131026:
		return &SendError{Code: CodeInvalidDestination, Message: msg, Temporary: false}
	case code == 132001:
		return &SendError{Code: CodeTemplateRejected, Message: msg, Temporary: false}
	default:
		return &SendError{Code: CodeRejected, Message: msg, Temporary: false}
	}
}
