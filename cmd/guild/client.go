package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
)

// client is a thin guildd HTTP client carrying the saved bearer token.
type client struct {
	base  string
	token string
	http  *http.Client
}

// serverError is an API error. HTTP responses wrap it in {"error": ...};
// stream error events carry it bare.
type serverError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *serverError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newClient resolves the server from --server, then the saved login. With
// auth set it fails when nobody is logged in.
func newClient(cmd *cobra.Command, auth bool) (*client, error) {
	c := &client{http: &http.Client{}}
	creds, err := config.LoadCredentials()
	if err == nil {
		c.base = creds.Server
		c.token = creds.Token
	} else if auth {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("not logged in (run 'guild login' first)")
		}
		return nil, err
	}
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		c.base = s
	}
	if c.base == "" {
		c.base = defaultServer
	}
	c.base = strings.TrimRight(c.base, "/")
	return c, nil
}

func (c *client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var envelope struct {
			Error serverError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		envelope.Error.Status = resp.StatusCode
		return nil, &envelope.Error
	}
	return resp, nil
}

// do sends a JSON request and decodes the JSON response into out when out is
// non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// download copies a response body to w.
func (c *client) download(ctx context.Context, path string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// stream posts body and calls fn for every server-sent event.
func (c *client) stream(ctx context.Context, path string, body any, fn func(event string, data json.RawMessage) error) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return readEvents(resp.Body, fn)
}

func readEvents(r io.Reader, fn func(event string, data json.RawMessage) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event != "" || data != "" {
				if err := fn(event, json.RawMessage(data)); err != nil {
					return err
				}
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	return sc.Err()
}

// eventError turns an error event into a Go error.
func eventError(data json.RawMessage) error {
	var e serverError
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("stream error: %s", data)
	}
	return &e
}

func expiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
