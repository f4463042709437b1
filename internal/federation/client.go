package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IncomingRequest is the body of POST incoming/request. ID is the
// requester's correlation id; only Secret authorizes later calls.
type IncomingRequest struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	PartnerUURUHost        string `json:"partner_uuru_host"`
	PartnerIAXHost         string `json:"partner_iax_host"`
	PartnerExtensionLength int    `json:"partner_extension_length"`
	Secret                 string `json:"secret"`
	Codec                  string `json:"codec"`
}

// OutgoingStatus is the body of PUT outgoing/request/{id}. The connection
// parameters are only sent when Accept is set.
type OutgoingStatus struct {
	Accept          bool   `json:"accept"`
	Secret          string `json:"secret"`
	ExtensionLength *int   `json:"extension_length,omitempty"`
	PartnerIAXHost  string `json:"partner_iax_host,omitempty"`
	PartnerUURUHost string `json:"partner_uuru_host,omitempty"`
}

// TeardownRequest is the body of POST peer/teardown.
type TeardownRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// envelope is the standard API response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client calls the federation API of partner instances.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a federation client with a 10 second timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// BaseURL turns a partner host into the root URL of its API. Hosts without
// a scheme are reached over http.
func BaseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host + "/api/v1/federation"
}

// CreateIncomingRequest asks the partner to store a peering request.
func (c *Client) CreateIncomingRequest(ctx context.Context, host string, req IncomingRequest) error {
	if err := c.do(ctx, http.MethodPost, BaseURL(host)+"/incoming/request", req); err != nil {
		return err
	}
	slog.Info("federation: created incoming peering request", "name", req.Name, "partner", host)
	return nil
}

// RevokeIncomingRequest withdraws a peering request stored at the partner.
func (c *Client) RevokeIncomingRequest(ctx context.Context, host, id, secret string) error {
	u := BaseURL(host) + "/incoming/request/" + url.PathEscape(id) + "?" + url.Values{"secret": {secret}}.Encode()
	if err := c.do(ctx, http.MethodDelete, u, nil); err != nil {
		return err
	}
	slog.Info("federation: revoked incoming peering request", "partner", host)
	return nil
}

// SetOutgoingStatus tells the requester whether its request was accepted.
func (c *Client) SetOutgoingStatus(ctx context.Context, host, id string, status OutgoingStatus) error {
	if err := c.do(ctx, http.MethodPut, BaseURL(host)+"/outgoing/request/"+url.PathEscape(id), status); err != nil {
		return err
	}
	slog.Info("federation: updated outgoing peering status", "partner", host, "accepted", status.Accept)
	return nil
}

// RequestTeardown asks the partner to remove its side of a peering.
func (c *Client) RequestTeardown(ctx context.Context, host string, req TeardownRequest) error {
	if err := c.do(ctx, http.MethodPost, BaseURL(host)+"/peer/teardown", req); err != nil {
		return err
	}
	slog.Info("federation: requested peer teardown", "name", req.Name, "partner", host)
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("federation: marshalling request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("federation: creating request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("federation: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("federation: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return fmt.Errorf("federation: partner error (status %d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("federation: partner returned status %d", resp.StatusCode)
	}
	return nil
}
