package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/rs/zerolog"
)

const (
	DefaultBufferSize    = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultSource        = "gamefeed"

	writeAttempts = 2
)

// Config configures an EventStore
type Config struct {
	Dir           string        `yaml:"dir" env:"DIR"`
	SessionID     string        `yaml:"session_id" env:"SESSION_ID"`
	BufferSize    int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	Source        string        `yaml:"source" env:"SOURCE"`
}

// Validate checks the store configuration after defaults are applied
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("store dir is required")
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative")
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("flush_interval must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	return c
}

// Stats is a snapshot of the store
type Stats struct {
	SessionID    string    `json:"session_id"`
	Buffered     int       `json:"buffered"`
	NextSeq      int64     `json:"next_seq"`
	FilesWritten uint64    `json:"files_written"`
	RowsWritten  uint64    `json:"rows_written"`
	FlushErrors  uint64    `json:"flush_errors"`
	LastFlush    time.Time `json:"last_flush"`
}

// EventStore buffers bus events as envelope rows and writes them to
// partitioned files under Dir:
//
//	doc_type=<name>/date=<YYYY-MM-DD>/<session>_<first>-<last>.json
type EventStore struct {
	bus     *events.Bus
	cfg     Config
	catalog Catalog
	logger  zerolog.Logger

	mu        sync.Mutex
	buffer    []types.Row
	nextSeq   int64
	lastFlush time.Time
	started   bool
	stopped   bool

	// windowStart is when the oldest buffered row arrived, or the last flush
	windowStart time.Time

	filesWritten uint64
	rowsWritten  uint64
	flushErrors  uint64

	now       func() time.Time
	writeFile func(path string, rows []types.Row) error
}

// NewEventStore creates a store for bus. catalog may be nil.
func NewEventStore(bus *events.Bus, cfg Config, catalog Catalog) (*EventStore, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("invalid store config: session id is required")
	}

	return &EventStore{
		bus:       bus,
		cfg:       cfg,
		catalog:   catalog,
		logger:    log.WithComponent("eventstore").With().Str("session_id", cfg.SessionID).Logger(),
		nextSeq:   1,
		now:       time.Now,
		writeFile: writePartitionFile,
	}, nil
}

// Start resumes the sequence from the catalog and subscribes to the bus
func (s *EventStore) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return fmt.Errorf("event store already stopped")
	}

	if s.catalog != nil {
		last, err := s.catalog.LastSeq(s.cfg.SessionID)
		if err != nil {
			return fmt.Errorf("failed to read sequence high-water: %w", err)
		}
		s.nextSeq = last + 1
	}
	s.lastFlush = s.now()
	s.windowStart = s.lastFlush

	for _, et := range PersistedEvents() {
		s.bus.Subscribe(et, s, false)
	}
	s.started = true

	metrics.UpdateComponent(metrics.ComponentEventStore, true, "")
	s.logger.Info().
		Str("dir", s.cfg.Dir).
		Int64("next_seq", s.nextSeq).
		Int("buffer_size", s.cfg.BufferSize).
		Dur("flush_interval", s.cfg.FlushInterval).
		Msg("event store started")
	return nil
}

// HandleEvent implements events.Handler
func (s *EventStore) HandleEvent(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return
	}

	doc, err := Decode(e)
	if errors.Is(err, ErrSkip) {
		metrics.StoreEventsSkipped.WithLabelValues("not_persisted").Inc()
		return
	}
	if err != nil {
		metrics.StoreEventsSkipped.WithLabelValues("unparseable").Inc()
		s.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("dropping unparseable event")
		return
	}

	if len(s.buffer) == 0 {
		s.windowStart = s.now()
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	s.buffer = append(s.buffer, types.Row{
		Envelope: types.Envelope{
			Ts:        ts.UTC(),
			Source:    s.cfg.Source,
			DocType:   doc.DocType(),
			SessionID: s.cfg.SessionID,
			Seq:       s.nextSeq,
			Direction: directionFor(e.Type),
			GameID:    doc.GameRef(),
		},
		Doc: doc,
	})
	s.nextSeq++
	metrics.StoreRowsBuffered.Set(float64(len(s.buffer)))

	if len(s.buffer) >= s.cfg.BufferSize || s.dueLocked() {
		if err := s.flushLocked(); err != nil {
			s.logger.Error().Err(err).Int("buffered", len(s.buffer)).Msg("flush failed, rows kept in buffer")
		}
	}
}

// Flush writes every buffered row now
func (s *EventStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// FlushIfDue flushes when the oldest buffered row has waited at least the
// flush interval. Time spent with an empty buffer does not count.
func (s *EventStore) FlushIfDue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dueLocked() {
		return nil
	}
	return s.flushLocked()
}

// Stop unsubscribes from the bus and flushes what is left. Events delivered
// after Stop are ignored.
func (s *EventStore) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		for _, et := range PersistedEvents() {
			s.bus.Unsubscribe(et, s)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.flushLocked()
	metrics.RemoveComponent(metrics.ComponentEventStore)
	s.logger.Info().
		Uint64("files_written", s.filesWritten).
		Uint64("rows_written", s.rowsWritten).
		Int("unflushed", len(s.buffer)).
		Msg("event store stopped")
	return err
}

// EventCount returns the number of buffered rows not yet written
func (s *EventStore) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Stats returns a snapshot of the store
func (s *EventStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SessionID:    s.cfg.SessionID,
		Buffered:     len(s.buffer),
		NextSeq:      s.nextSeq,
		FilesWritten: s.filesWritten,
		RowsWritten:  s.rowsWritten,
		FlushErrors:  s.flushErrors,
		LastFlush:    s.lastFlush,
	}
}

func (s *EventStore) dueLocked() bool {
	return len(s.buffer) > 0 && s.now().Sub(s.windowStart) >= s.cfg.FlushInterval
}

// flushLocked writes one file per partition. Rows of partitions that could
// not be written stay buffered in sequence order.
func (s *EventStore) flushLocked() error {
	s.lastFlush = s.now()
	s.windowStart = s.lastFlush
	if len(s.buffer) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreFlushDuration)

	var (
		kept    []types.Row
		written []PartitionFile
		errs    []error
	)
	for _, p := range groupRows(s.buffer) {
		rel := filepath.Join(p.key.dir(), p.fileName(s.cfg.SessionID))
		if err := s.writeWithRetry(filepath.Join(s.cfg.Dir, rel), p.rows); err != nil {
			s.flushErrors++
			metrics.StoreFlushErrors.Inc()
			errs = append(errs, fmt.Errorf("partition %s: %w", rel, err))
			kept = append(kept, p.rows...)
			continue
		}

		s.filesWritten++
		s.rowsWritten += uint64(len(p.rows))
		metrics.StoreRowsWritten.WithLabelValues(string(p.key.docType)).Add(float64(len(p.rows)))
		written = append(written, PartitionFile{
			Path:      rel,
			DocType:   p.key.docType,
			Date:      p.key.date,
			SessionID: s.cfg.SessionID,
			FirstSeq:  p.rows[0].Seq,
			LastSeq:   p.rows[len(p.rows)-1].Seq,
			Rows:      len(p.rows),
			WrittenAt: s.lastFlush,
		})
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Seq < kept[j].Seq })
	s.buffer = kept
	metrics.StoreRowsBuffered.Set(float64(len(s.buffer)))

	if s.catalog != nil && len(written) > 0 {
		if err := s.catalog.Record(written...); err != nil {
			errs = append(errs, fmt.Errorf("failed to record partitions: %w", err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		metrics.UpdateComponent(metrics.ComponentEventStore, false, err.Error())
		return err
	}
	metrics.UpdateComponent(metrics.ComponentEventStore, true, "")
	s.logger.Debug().Int("files", len(written)).Msg("flushed")
	return nil
}

func (s *EventStore) writeWithRetry(path string, rows []types.Row) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = s.writeFile(path, rows); err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("partition write failed")
	}
	return err
}

func directionFor(et events.EventType) types.Direction {
	switch et {
	case events.EventTradeBuy, events.EventTradeSell, events.EventTradeSidebet, events.EventButtonPress:
		return types.DirectionSent
	case events.EventGameComplete:
		return types.DirectionInternal
	}
	return types.DirectionReceived
}
