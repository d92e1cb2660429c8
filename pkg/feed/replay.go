package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/rs/zerolog"
)

const (
	// maxFrameBytes bounds one NDJSON line
	maxFrameBytes = 1 << 20

	backpressurePoll = 5 * time.Millisecond
)

// ErrMissingEvent is returned for a frame without an event type
var ErrMissingEvent = errors.New("frame has no event type")

// Frame is one line of a feed file
type Frame struct {
	Event     events.EventType `json:"event"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"ts,omitempty"`
}

// ParseFrame decodes one NDJSON line
func ParseFrame(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}

// Publisher is where frames are delivered
type Publisher interface {
	Publish(eventType events.EventType, payload any)
}

// queueDepther is implemented by publishers that expose a queue depth,
// such as *events.Bus
type queueDepther interface {
	QueueDepth() int
}

// Options control replay pacing
type Options struct {
	// Speed replays frames at their recorded pace divided by Speed. Zero
	// replays as fast as the publisher accepts them.
	Speed float64

	// MaxQueueDepth pauses replay while the publisher's queue holds at
	// least this many events. Zero disables backpressure.
	MaxQueueDepth int
}

// Stats counts what a replay did
type Stats struct {
	Lines     int `json:"lines"`
	Published int `json:"published"`
	Malformed int `json:"malformed"`
}

// Replayer publishes a recorded feed
type Replayer struct {
	pub    Publisher
	opts   Options
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewReplayer creates a replayer publishing to pub
func NewReplayer(pub Publisher, opts Options) *Replayer {
	return &Replayer{
		pub:    pub,
		opts:   opts,
		logger: log.WithComponent("feed"),
		sleep:  sleepContext,
	}
}

// Replay reads NDJSON frames from r and publishes each one until r is
// exhausted or ctx is done. Blank lines and lines starting with '#' are
// ignored; malformed frames are logged, counted and skipped.
func (p *Replayer) Replay(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	var last time.Time

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		frame, err := ParseFrame(line)
		if err != nil {
			stats.Malformed++
			p.logger.Warn().
				Err(err).
				Int("line", stats.Lines).
				Msg("skipping malformed frame")
			continue
		}

		if err := p.pace(ctx, &last, frame.Timestamp); err != nil {
			return stats, err
		}
		if err := p.waitForQueue(ctx); err != nil {
			return stats, err
		}

		var payload any
		if len(frame.Data) > 0 && !bytes.Equal(frame.Data, []byte("null")) {
			payload = frame.Data
		}
		p.pub.Publish(frame.Event, payload)
		stats.Published++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read feed: %w", err)
	}

	p.logger.Info().
		Int("lines", stats.Lines).
		Int("published", stats.Published).
		Int("malformed", stats.Malformed).
		Msg("feed replay finished")
	return stats, nil
}

func (p *Replayer) pace(ctx context.Context, last *time.Time, ts time.Time) error {
	if p.opts.Speed <= 0 || ts.IsZero() {
		return nil
	}
	prev := *last
	*last = ts
	if prev.IsZero() || !ts.After(prev) {
		return nil
	}
	return p.sleep(ctx, time.Duration(float64(ts.Sub(prev))/p.opts.Speed))
}

func (p *Replayer) waitForQueue(ctx context.Context) error {
	q, ok := p.pub.(queueDepther)
	if !ok || p.opts.MaxQueueDepth <= 0 {
		return nil
	}
	for q.QueueDepth() >= p.opts.MaxQueueDepth {
		if err := p.sleep(ctx, backpressurePoll); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
