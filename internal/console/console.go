// Package console is a line-delimited JSON platform adapter. Messages are
// read from an input stream, one JSON object per line, and replies are
// written to an output stream in the same framing.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagiedev/codex-relay/internal/prompt"
)

const (
	// DefaultHistory is the number of messages remembered per channel.
	DefaultHistory = 100

	maxLineSize = 1024 * 1024
)

// Inbound is one input line.
type Inbound struct {
	Channel     string   `json:"channel"`
	Author      string   `json:"author,omitempty"`
	Text        string   `json:"text"`
	ID          string   `json:"id,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Outbound is one output line.
type Outbound struct {
	Channel string    `json:"channel"`
	Text    string    `json:"text,omitempty"`
	Error   string    `json:"error,omitempty"`
	ReplyTo string    `json:"reply_to,omitempty"`
	Time    time.Time `json:"time"`
}

// Handler queues one inbound message and returns the channel its outcome is
// delivered on. Serve calls it in input order, one message at a time.
type Handler func(ctx context.Context, msg prompt.Message) <-chan error

// Platform reads messages from and writes replies to JSON line streams.
type Platform struct {
	log     *slog.Logger
	history int

	outMu sync.Mutex
	enc   *json.Encoder

	mu     sync.Mutex
	recent map[string][]prompt.Message

	now func() time.Time
}

// New creates a platform writing to out. history bounds the messages kept
// per channel; zero means DefaultHistory.
func New(log *slog.Logger, out io.Writer, history int) *Platform {
	if history <= 0 {
		history = DefaultHistory
	}

	return &Platform{
		log:     log.With("component", "console"),
		history: history,
		enc:     json.NewEncoder(out),
		recent:  make(map[string][]prompt.Message, 8),
		now:     time.Now,
	}
}

// SendMessage writes a reply line.
func (p *Platform) SendMessage(_ context.Context, channelID, text string) error {
	return p.write(Outbound{Channel: channelID, Text: text})
}

// RecentMessages returns up to limit of the latest messages of a channel,
// oldest first.
func (p *Platform) RecentMessages(channelID string, limit int) []prompt.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.recent[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	return append([]prompt.Message(nil), msgs...)
}

// Serve reads in until EOF or ctx is done. Messages are handed to handle in
// input order and their outcomes are awaited concurrently; a failure is
// reported as an error line for the channel. Serve returns once every
// outcome has arrived.
func (p *Platform) Serve(ctx context.Context, in io.Reader, handle Handler) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}

				return nil
			}

			msg, ok := p.parse(line)
			if !ok {
				continue
			}

			errc := handle(ctx, msg)

			wg.Go(func() {
				if err := <-errc; err != nil {
					p.log.Error("Message handling failed", "channel", msg.ChannelID, "message_id", msg.MessageID, "error", err)

					if werr := p.write(Outbound{Channel: msg.ChannelID, Error: err.Error(), ReplyTo: msg.MessageID}); werr != nil {
						p.log.Warn("Failed to write error line", "error", werr)
					}
				}
			})
		}
	}
}

// parse decodes and records one input line.
func (p *Platform) parse(line string) (prompt.Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return prompt.Message{}, false
	}

	var in Inbound
	if err := json.Unmarshal([]byte(line), &in); err != nil {
		p.log.Warn("Skipping undecodable input line", "error", err)

		return prompt.Message{}, false
	}

	if in.Channel == "" || strings.TrimSpace(in.Text) == "" {
		p.log.Warn("Skipping input line without channel or text")

		return prompt.Message{}, false
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	msg := prompt.Message{
		ChannelID:   in.Channel,
		MessageID:   in.ID,
		Author:      in.Author,
		Text:        in.Text,
		Attachments: in.Attachments,
		ReceivedAt:  p.now(),
	}

	p.record(msg)

	return msg, true
}

func (p *Platform) record(msg prompt.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := append(p.recent[msg.ChannelID], msg)
	if len(msgs) > p.history {
		msgs = append([]prompt.Message(nil), msgs[len(msgs)-p.history:]...)
	}

	p.recent[msg.ChannelID] = msgs
}

func (p *Platform) write(out Outbound) error {
	if out.Time.IsZero() {
		out.Time = p.now().UTC()
	}

	p.outMu.Lock()
	defer p.outMu.Unlock()

	if err := p.enc.Encode(out); err != nil {
		return fmt.Errorf("write console output: %w", err)
	}

	return nil
}
