package answer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrTransport marks a stream-level connection failure. It terminates the
// current answer turn only; retry is a user-initiated new question.
var ErrTransport = errors.New("answer stream transport failure")

const defaultStreamTimeout = 5 * time.Minute

// Scanner buffer sized for long content deltas.
const maxLineBytes = 1 << 20

// HistoryEntry is one prior exchange sent along with a new question.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client opens answer streams against the question-answering service.
type Client struct {
	endpoint string
	hc       *http.Client
	log      *zap.Logger
}

func NewClient(endpoint string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultStreamTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{endpoint: endpoint, hc: hc, log: log}
}

type askRequest struct {
	DocumentID string         `json:"document_id"`
	Question   string         `json:"question"`
	History    []HistoryEntry `json:"history,omitempty"`
}

// Ask submits a question and returns a channel of decoded stream events.
// Events arrive strictly in wire order. The channel always ends with a
// terminal event (done or error) and is then closed. Cancelling ctx
// closes the underlying connection; server-side generation is not
// cancelled.
func (c *Client) Ask(ctx context.Context, documentID, question string, history []HistoryEntry) (<-chan Event, error) {
	payload, err := json.Marshal(askRequest{DocumentID: documentID, Question: question, History: history})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s (%s)", ErrTransport, resp.Status, bytes.TrimSpace(body))
	}

	events := make(chan Event)
	go c.readLoop(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) readLoop(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	terminal := false
	for scanner.Scan() {
		ev, err := ParseLine(scanner.Bytes())
		if err != nil {
			if !errors.Is(err, errBlankLine) {
				// Malformed individual lines are skipped, not fatal.
				c.log.Warn("skipping malformed stream line", zap.Error(err))
			}
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Terminal() {
			terminal = true
			break
		}
	}

	if terminal {
		return
	}
	message := "stream ended before completion"
	if err := scanner.Err(); err != nil {
		message = err.Error()
	}
	if ctx.Err() != nil {
		// Client-side cancellation is not an error turn; the consumer is gone.
		return
	}
	select {
	case events <- Event{Type: EventError, Message: message}:
	case <-ctx.Done():
	}
}
