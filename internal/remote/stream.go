package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/transport"
)

const (
	streamBuffer  = 64
	maxEventBytes = 1 << 20
)

// Subscribe opens the server-sent change stream. It returns once the
// server has registered the subscription, so a load issued afterwards
// cannot miss a change.
func (c *Client) Subscribe(ctx context.Context) (report.Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/v1/reports/changes", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening change stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, decodeError(resp)
	}

	sub := &subscription{
		ch:     make(chan report.ChangeEvent, streamBuffer),
		cancel: cancel,
	}
	go sub.read(streamCtx, resp.Body, c)
	return sub, nil
}

type subscription struct {
	ch     chan report.ChangeEvent
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Events() <-chan report.ChangeEvent { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	s.err = err
}

func (s *subscription) read(ctx context.Context, body io.ReadCloser, c *Client) {
	defer close(s.ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventBytes)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name == "" && data.Len() == 0 {
				continue
			}
			if !s.dispatch(ctx, name, data.String(), c) {
				return
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.fail(fmt.Errorf("%w: %v", report.ErrSubscriptionLost, err))
}

// dispatch delivers one event. It returns false when the stream is over.
func (s *subscription) dispatch(ctx context.Context, name, data string, c *Client) bool {
	switch name {
	case transport.EventError:
		var apiErr transport.APIError
		if err := json.Unmarshal([]byte(data), &apiErr); err != nil || apiErr.Code == "" {
			s.fail(fmt.Errorf("%w: %s", report.ErrSubscriptionLost, data))
			return false
		}
		s.fail(apiErrorToDomain(&apiErr))
		return false
	case transport.EventChange, "":
		var evt report.ChangeEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			c.logger.Warn("malformed change event, dropping stream", "error", err)
			s.fail(fmt.Errorf("%w: malformed change event: %v", report.ErrSubscriptionLost, err))
			return false
		}
		select {
		case s.ch <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	default:
		return true
	}
}
