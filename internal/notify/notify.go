// Package notify sends transactional email through the EmailJS REST API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/logger"
)

// Sender delivers one templated email.
type Sender interface {
	Send(ctx context.Context, templateID, recipient string, vars map[string]string) error
}

// EmailJS posts to the EmailJS send endpoint.
type EmailJS struct {
	Endpoint   string
	ServiceID  string
	TemplateID string
	PublicKey  string
	Client     *http.Client
}

// NewEmailJS returns a sender with a 10 second HTTP timeout.
func NewEmailJS(endpoint, serviceID, templateID, publicKey string) *EmailJS {
	return &EmailJS{
		Endpoint:   endpoint,
		ServiceID:  serviceID,
		TemplateID: templateID,
		PublicKey:  publicKey,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	TemplateParams map[string]string `json:"template_params"`
}

// Send fills the template with vars. An empty templateID uses the
// configured default; to_email is set to recipient unless vars has one.
func (e *EmailJS) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	if templateID == "" {
		templateID = e.TemplateID
	}
	params := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		params[k] = v
	}
	if _, ok := params["to_email"]; !ok {
		params["to_email"] = recipient
	}
	body, err := json.Marshal(sendRequest{
		ServiceID:      e.ServiceID,
		TemplateID:     templateID,
		UserID:         e.PublicKey,
		TemplateParams: params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build emailjs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("emailjs send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emailjs send: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Noop logs instead of sending. Used when EmailJS is not configured.
type Noop struct{}

// Send implements Sender.
func (Noop) Send(_ context.Context, templateID, recipient string, _ map[string]string) error {
	logger.Infof("notify: email disabled, dropping template %q for %s", templateID, recipient)
	return nil
}
