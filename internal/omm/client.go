// Package omm is a client for the AXI interface of a Mitel OpenMobility
// Manager, the controller of the DECT base stations.
//
// AXI exchanges XML documents over a TLS stream, each terminated by a NUL
// byte. Requests carry a seq attribute that the matching response echoes.
package omm

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	pageSize       = 20
)

// ErrUserNotFound is returned when no OMM user has the requested number.
var ErrUserNotFound = errors.New("omm: user not found")

// Error is a negative AXI response.
type Error struct {
	Request string
	Code    string
	Info    string
}

func (e *Error) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("omm: %s failed: %s (%s)", e.Request, e.Code, e.Info)
	}
	return fmt.Sprintf("omm: %s failed: %s", e.Request, e.Code)
}

// Device is a DECT handset known to the OMM.
type Device struct {
	PPN     int
	UID     int
	RelType string
}

// User is an OMM user profile.
type User struct {
	UID  int
	Num  string
	Name string
	PPN  int
}

// Config holds the connection settings.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	VerifyCert bool
}

// Client is a single AXI session. Calls are serialized; the session is
// opened lazily and re-opened after a transport error.
type Client struct {
	user     string
	password string
	dial     func(ctx context.Context) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	seq  int
}

// New returns a client dialing the OMM over TLS.
func New(cfg Config) *Client {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsCfg := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.VerifyCert, // OMMs ship self-signed certificates
	}
	dial := func(ctx context.Context) (net.Conn, error) {
		d := tls.Dialer{NetDialer: &net.Dialer{Timeout: defaultTimeout}, Config: tlsCfg}
		return d.DialContext(ctx, "tcp", addr)
	}
	return NewWithDialer(dial, cfg.User, cfg.Password)
}

// NewWithDialer returns a client using dial for its transport.
func NewWithDialer(dial func(ctx context.Context) (net.Conn, error), user, password string) *Client {
	return &Client{user: user, password: password, dial: dial}
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r = nil, nil
	return err
}

// call sends req and returns its response. Callers hold no lock.
func (c *Client) call(ctx context.Context, req node) (node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.openLocked(ctx); err != nil {
			return node{}, err
		}
	}
	c.seq++
	req.setAttr("seq", strconv.Itoa(c.seq))

	resp, err := c.roundTripLocked(ctx, req, true)
	if err != nil {
		var axiErr *Error
		if !errors.As(err, &axiErr) {
			c.closeLocked()
		}
		return node{}, err
	}
	return resp, nil
}

func (c *Client) openLocked(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("omm: connecting: %w", err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)

	open := msg("Open", "username", c.user, "password", c.password, "UserDeviceSyncClient", "true")
	resp, err := c.roundTripLocked(ctx, open, false)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("omm: login: %w", err)
	}
	slog.Info("omm: session opened", "version", resp.attr("omm"))
	return nil
}

func (c *Client) roundTripLocked(ctx context.Context, req node, matchSeq bool) (node, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	c.conn.SetDeadline(deadline)

	out, err := xml.Marshal(req)
	if err != nil {
		return node{}, fmt.Errorf("omm: encoding %s: %w", req.XMLName.Local, err)
	}
	if _, err := c.conn.Write(append(out, 0)); err != nil {
		return node{}, fmt.Errorf("omm: writing %s: %w", req.XMLName.Local, err)
	}

	want := req.XMLName.Local + "Resp"
	for {
		frame, err := c.r.ReadBytes(0)
		if err != nil {
			return node{}, fmt.Errorf("omm: reading %s: %w", want, err)
		}
		var resp node
		if err := xml.Unmarshal(frame[:len(frame)-1], &resp); err != nil {
			return node{}, fmt.Errorf("omm: decoding %s: %w", want, err)
		}
		// Events and stale responses interleave with ours.
		if resp.XMLName.Local != want || (matchSeq && resp.attr("seq") != req.attr("seq")) {
			slog.Debug("omm: skipping message", "name", resp.XMLName.Local)
			continue
		}
		if code := resp.attr("errCode"); code != "" {
			return node{}, &Error{Request: req.XMLName.Local, Code: code, Info: resp.attr("info")}
		}
		return resp, nil
	}
}
