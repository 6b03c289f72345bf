// Package telephony talks to the Twilio REST API and renders the TwiML
// documents that drive a call.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrNotConfigured is returned by every REST operation when no account
// credentials were provided.
var ErrNotConfigured = errors.New("twilio credentials not configured")

// restAPI is the subset of the Twilio 2010 API used here.
type restAPI interface {
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Config holds account credentials and how redirected calls reconnect.
type Config struct {
	AccountSID string
	AuthToken  string
	// Language is the <Say> language for spoken replies.
	Language string
	// StreamURL is the media socket a call reconnects to after a reply.
	StreamURL string
}

// Client performs call control and messaging.
type Client struct {
	api       restAPI
	language  string
	streamURL string
	logger    *slog.Logger
}

// NewClient creates a client. Missing credentials yield a client whose REST
// operations fail with ErrNotConfigured.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		language:  cfg.Language,
		streamURL: cfg.StreamURL,
		logger:    logger.With("subsystem", "telephony"),
	}
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		rc := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		c.api = rc.Api
	}
	return c
}

// Configured reports whether REST credentials are present.
func (c *Client) Configured() bool {
	return c.api != nil
}

// Redirect replaces the live call's instructions: speak text, then
// reconnect the caller to a fresh media stream carrying params.
func (c *Client) Redirect(ctx context.Context, callID, text string, params map[string]string) error {
	if c.api == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := ReplyTwiML(text, c.language, c.streamURL, params)
	if err != nil {
		return err
	}

	params := &openapi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := c.api.UpdateCall(callID, params); err != nil {
		return fmt.Errorf("updating call %s: %w", callID, err)
	}
	c.logger.Info("call redirected", "call_id", callID)
	return nil
}

// LookupCall fetches a call's caller (from) and dialled (to) numbers.
func (c *Client) LookupCall(ctx context.Context, callID string) (from, to string, err error) {
	if c.api == nil {
		return "", "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	call, err := c.api.FetchCall(callID, &openapi.FetchCallParams{})
	if err != nil {
		return "", "", fmt.Errorf("fetching call %s: %w", callID, err)
	}
	return deref(call.From), deref(call.To), nil
}

// SendMessage sends an SMS.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) error {
	if c.api == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)
	if _, err := c.api.CreateMessage(params); err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
