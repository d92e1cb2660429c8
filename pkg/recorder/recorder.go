package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/gamefeed/pkg/integrity"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoSession is returned when an operation needs an active session
	ErrNoSession = errors.New("no active recording session")
	// ErrSessionActive is returned when starting a session while one is running
	ErrSessionActive = errors.New("recording session already active")
)

// Session end reasons
const (
	EndReasonGameLimit = "game_limit"
	EndReasonTimeLimit = "time_limit"
	EndReasonRequested = "requested"
	EndReasonStopped   = "stopped"
)

// DefaultUsername is used when no player name is configured
const DefaultUsername = "player"

// Limits end a session. Zero values mean unlimited.
type Limits struct {
	MaxGames    int           `yaml:"max_games" env:"MAX_GAMES"`
	MaxDuration time.Duration `yaml:"max_duration" env:"MAX_DURATION"`
}

// Config configures a Recorder
type Config struct {
	Dir       string           `yaml:"dir" env:"DIR"`
	Username  string           `yaml:"username" env:"USERNAME"`
	Limits    Limits           `yaml:"limits" envPrefix:"LIMITS_"`
	Integrity integrity.Config `yaml:"integrity" envPrefix:"INTEGRITY_"`
}

// Validate checks the recorder configuration
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("recorder dir is required")
	}
	if c.Limits.MaxGames < 0 {
		return fmt.Errorf("max_games must not be negative")
	}
	if c.Limits.MaxDuration < 0 {
		return fmt.Errorf("max_duration must not be negative")
	}
	return c.Integrity.Validate()
}

// Callbacks notify external collaborators. They are invoked without any
// recorder lock held.
type Callbacks struct {
	OnStateChange     func(from, to State)
	OnGameRecorded    func(types.GameMeta)
	OnSessionComplete func(SessionSummary)
}

// Session is the running recording session
type Session struct {
	SessionID     string    `json:"session_id"`
	StartedAt     time.Time `json:"started_at"`
	GamesRecorded int       `json:"games_recorded"`
	Limits        Limits    `json:"limits"`
}

// SessionSummary is reported when a session ends
type SessionSummary struct {
	Session
	EndedAt         time.Time `json:"ended_at"`
	Reason          string    `json:"reason"`
	GamesDiscarded  int       `json:"games_discarded"`
	ActionsRecorded int       `json:"actions_recorded"`
	SessionFile     string    `json:"session_file,omitempty"`
}

// Status is a snapshot of the recorder
type Status struct {
	State          State            `json:"state"`
	Paused         bool             `json:"paused"`
	Session        *Session         `json:"session,omitempty"`
	CurrentGameID  string           `json:"current_game_id,omitempty"`
	CurrentTicks   int              `json:"current_ticks"`
	GamesDiscarded int              `json:"games_discarded"`
	Actions        int              `json:"actions"`
	StopRequested  bool             `json:"stop_requested"`
	Integrity      integrity.Status `json:"integrity"`
}

// Recorder drives the recording state machine and writes finalized games and
// player sessions to disk. All methods are safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	cfg       Config
	callbacks Callbacks
	sm        *StateMachine
	monitor   *integrity.Monitor
	logger    zerolog.Logger
	now       func() time.Time

	session        *Session
	player         *PlayerAccumulator
	game           *GameAccumulator
	joined         bool
	gameDiscarded  bool
	connectionLost bool
	stopRequested  bool
	gamesDiscarded int

	// pending holds notifications queued while mu is held
	pending []func()
}

// New creates a recorder
func New(cfg Config, callbacks Callbacks) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder config: %w", err)
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}

	r := &Recorder{
		cfg:       cfg,
		callbacks: callbacks,
		logger:    log.WithComponent("recorder"),
		now:       time.Now,
	}
	r.sm = NewStateMachine(r.stateChanged)

	monitor, err := integrity.New(cfg.Integrity, integrity.Callbacks{
		OnThresholdExceeded: r.integrityTriggered,
		OnRecovery:          r.recovered,
	})
	if err != nil {
		return nil, err
	}
	r.monitor = monitor

	setStateGauge(StateIdle)
	metrics.UpdateComponent(metrics.ComponentRecorder, true, string(StateIdle))
	return r, nil
}

// State returns the recording state
func (r *Recorder) State() State {
	return r.sm.State()
}

// IsRecording reports whether games are currently being written
func (r *Recorder) IsRecording() bool {
	return r.sm.IsRecording()
}

// IsActive reports whether a session is running
func (r *Recorder) IsActive() bool {
	return r.sm.IsActive()
}

// StartSession begins a session and returns its id
func (r *Recorder) StartSession(limits Limits) (string, error) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session != nil {
		return "", ErrSessionActive
	}
	if err := r.sm.StartSession(); err != nil {
		return "", err
	}

	now := r.now()
	r.session = &Session{
		SessionID: uuid.NewString(),
		StartedAt: now,
		Limits:    limits,
	}
	r.player = NewPlayerAccumulator(r.session.SessionID, r.cfg.Username, now)
	r.game = nil
	r.stopRequested = false
	r.gamesDiscarded = 0
	r.monitor.Reset()

	r.logger.Info().
		Str("session_id", r.session.SessionID).
		Int("max_games", limits.MaxGames).
		Dur("max_duration", limits.MaxDuration).
		Msg("recording session started")
	return r.session.SessionID, nil
}

// StopSession ends the session immediately, discarding any game in progress,
// and writes the player session file.
func (r *Recorder) StopSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return ErrNoSession
	}
	if r.game != nil {
		r.discardGameLocked("session stopped")
	}
	if err := ctx.Err(); err != nil {
		r.sm.Stop()
		r.clearSessionLocked()
		return fmt.Errorf("session stopped without saving: %w", err)
	}
	_, err := r.finishSessionLocked(EndReasonStopped)
	return err
}

// RequestStop ends the session after the game in progress is finished. With
// no game being recorded the session ends immediately.
func (r *Recorder) RequestStop() error {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return ErrNoSession
	}
	r.stopRequested = true

	switch r.sm.State() {
	case StateRecording:
		if r.game != nil && !r.joined {
			return r.sm.LimitReached()
		}
	case StateFinishingGame:
		return nil
	}

	if r.game != nil {
		r.discardGameLocked("stop requested")
	}
	_, err := r.finishSessionLocked(EndReasonRequested)
	return err
}

// OnGameStart begins accumulating a new game. A game still in progress is
// abandoned and counted as a bad game.
func (r *Recorder) OnGameStart(gameID string) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return
	}
	if r.game != nil && r.game.GameID() == gameID {
		return
	}
	if ended := r.abandonGameLocked(gameID); ended {
		return
	}

	r.game = NewGameAccumulator(gameID, r.now())
	r.joined = false
	r.gameDiscarded = false
	r.connectionLost = false

	if err := r.sm.GameStarted(); err != nil {
		r.logger.Debug().Str("game_id", gameID).Msg("observing game while monitoring is paused")
	}
	r.queue(func() { r.monitor.OnGameStart(gameID) })
}

// OnGameJoined tracks a game that was already under way when it was first
// seen. Its ticks feed the integrity monitor but the game is never saved,
// never counts towards the session limits and its end is not reported as
// a bad game.
func (r *Recorder) OnGameJoined(gameID string) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return
	}
	if r.game != nil && r.game.GameID() == gameID {
		return
	}
	if ended := r.abandonGameLocked(gameID); ended {
		return
	}

	r.logger.Info().Str("game_id", gameID).Msg("joined game in progress, waiting for the next game")
	r.game = NewGameAccumulator(gameID, r.now())
	r.joined = true
	r.gameDiscarded = false
	r.connectionLost = false
	r.queue(func() { r.monitor.OnGameStart(gameID) })
}

// abandonGameLocked drops the game in progress before nextID takes over. It
// reports whether the session ended as a result.
func (r *Recorder) abandonGameLocked(nextID string) bool {
	if prev := r.game; prev != nil {
		wasJoined := r.joined
		if !wasJoined {
			r.logger.Warn().
				Str("game_id", prev.GameID()).
				Str("next_game_id", nextID).
				Msg("game ended without a rug, discarding")
			r.discardGameLocked("no game end")
			r.queue(func() { r.monitor.OnGameEnd(prev.GameID(), false) })
		}
		r.game = nil
		r.joined = false

		if r.sm.State() == StateFinishingGame {
			r.finishSessionLocked(r.limitReasonLocked())
			return true
		}
		if r.sm.State() == StateRecording && !wasJoined {
			r.sm.GameEnded(true)
		}
	}

	if reason, done := r.sessionDoneLocked(); done {
		r.finishSessionLocked(reason)
		return true
	}
	return false
}

// OnTick records the price for a tick of the current game
func (r *Recorder) OnTick(tick int, price decimal.Decimal) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return
	}
	if r.game != nil {
		r.game.AddTick(tick, price)
	}
	if r.sm.State() == StateRecording && r.timeLimitLocked() {
		r.logger.Info().Msg("session time limit reached, finishing current game")
		r.sm.LimitReached()
	}
	r.queue(func() { r.monitor.OnTick(tick) })
}

// FillGaps supplies prices for ticks that were missed. It returns the number
// of ticks filled.
func (r *Recorder) FillGaps(prices map[int]decimal.Decimal) int {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.game == nil {
		return 0
	}
	return r.game.FillGaps(prices)
}

// OnSeedReveal records the server seed of the current game
func (r *Recorder) OnSeedReveal(seed, hash string) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.game != nil {
		r.game.SetSeed(seed, hash)
	}
}

// OnPeakMultiplier records the peak multiplier reported by the feed
func (r *Recorder) OnPeakMultiplier(peak decimal.Decimal) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.game != nil {
		r.game.SetPeak(peak)
	}
}

// OnGameEnd finalizes the current game. When the game was being recorded it
// is written to disk and returned; otherwise the result is nil.
func (r *Recorder) OnGameEnd(gameID string) (*types.CompleteGame, error) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	game := r.game
	if r.session == nil || game == nil {
		return nil, nil
	}
	if gameID != "" && gameID != game.GameID() {
		r.logger.Debug().
			Str("game_id", gameID).
			Str("current_game_id", game.GameID()).
			Msg("ignoring end of a game that is not being tracked")
		return nil, nil
	}
	r.game = nil

	if r.joined {
		r.joined = false
		r.logger.Debug().Str("game_id", game.GameID()).Msg("joined game ended, not recorded")
		if r.sm.State() == StateFinishingGame {
			_, err := r.finishSessionLocked(r.limitReasonLocked())
			return nil, err
		}
		return nil, nil
	}

	clean := !game.HasGaps() && !r.connectionLost && !r.gameDiscarded
	state := r.sm.State()
	id := game.GameID()

	var (
		recorded *types.CompleteGame
		saveErr  error
	)
	if (state == StateRecording || state == StateFinishingGame) && !r.gameDiscarded {
		complete := game.Finish(r.now())
		if _, err := saveGame(r.cfg.Dir, complete, game.Gaps()); err != nil {
			saveErr = err
			r.gamesDiscarded++
			metrics.GamesDiscarded.Inc()
			r.logger.Error().Err(err).Str("game_id", id).Msg("failed to save game")
		} else {
			recorded = &complete
			r.session.GamesRecorded++
			metrics.GamesRecorded.Inc()
			r.logger.Info().
				Str("game_id", id).
				Int("ticks", complete.DurationTicks).
				Str("peak", complete.PeakMultiplier.String()).
				Int("games_recorded", r.session.GamesRecorded).
				Msg("game recorded")
			if cb := r.callbacks.OnGameRecorded; cb != nil {
				meta := complete.GameMeta
				r.queue(func() { cb(meta) })
			}
		}
	}

	r.queue(func() {
		r.monitor.OnGameEnd(id, clean)
		if clean && r.monitor.IsTriggered() {
			r.monitor.OnCleanGameObserved()
		}
	})

	reason, done := r.sessionDoneLocked()
	if state == StateFinishingGame {
		done = true
		if reason == "" {
			reason = r.limitReasonLocked()
		}
	}

	if state == StateRecording || state == StateFinishingGame {
		r.sm.GameEnded(!done)
	}
	if done {
		if _, err := r.finishSessionLocked(reason); err != nil {
			return recorded, errors.Join(saveErr, err)
		}
	}
	return recorded, saveErr
}

// OnPlayerAction appends an action to the player session
func (r *Recorder) OnPlayerAction(rec types.PlayerActionRecord) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.player == nil {
		return
	}
	if rec.GameID == "" && r.game != nil {
		rec.GameID = r.game.GameID()
	}
	r.player.Add(rec)
}

// OnConnectionLost marks the current game as unclean and triggers the monitor
func (r *Recorder) OnConnectionLost() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return
	}
	if r.game != nil {
		r.connectionLost = true
	}
	r.queue(r.monitor.OnConnectionLost)
}

// OnConnectionRestored resumes gap tracking after a reconnect
func (r *Recorder) OnConnectionRestored() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return
	}
	r.queue(r.monitor.OnConnectionRestored)
}

// Status returns a snapshot of the recorder
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		State:          r.sm.State(),
		Paused:         r.sm.Paused(),
		GamesDiscarded: r.gamesDiscarded,
		StopRequested:  r.stopRequested,
		Integrity:      r.monitor.Status(),
	}
	if r.session != nil {
		s := *r.session
		st.Session = &s
	}
	if r.game != nil {
		st.CurrentGameID = r.game.GameID()
		st.CurrentTicks = r.game.Ticks()
	}
	if r.player != nil {
		st.Actions = r.player.Len()
	}
	return st
}

// integrityTriggered is the monitor's threshold callback
func (r *Recorder) integrityTriggered(issue integrity.Issue, details integrity.Details) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil {
		return
	}

	r.logger.Warn().
		Str("issue", string(issue)).
		Int("gap_size", details.GapSize).
		Str("game_id", details.GameID).
		Msg("integrity problem, pausing recording")

	switch r.sm.State() {
	case StateFinishingGame:
		if r.game != nil {
			r.discardGameLocked(string(issue))
		}
		r.finishSessionLocked(r.limitReasonLocked())
		return
	case StateRecording:
		if r.game != nil {
			r.discardGameLocked(string(issue))
		}
	}
	if r.stopRequested {
		r.finishSessionLocked(EndReasonRequested)
		return
	}
	if err := r.sm.IntegrityTriggered(); err != nil {
		r.logger.Debug().Err(err).Msg("integrity trigger ignored")
	}
}

// recovered is the monitor's recovery callback
func (r *Recorder) recovered() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.session == nil || !r.sm.Paused() {
		return
	}
	if err := r.sm.Recovered(); err != nil {
		r.logger.Debug().Err(err).Msg("recovery ignored")
		return
	}
	r.logger.Info().Msg("clean game observed, recording resumed")
}

// stateChanged runs synchronously inside state machine calls made under mu
func (r *Recorder) stateChanged(from, to State) {
	setStateGauge(to)
	metrics.UpdateComponent(metrics.ComponentRecorder, true, string(to))
	r.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("recording state changed")
	if cb := r.callbacks.OnStateChange; cb != nil {
		r.queue(func() { cb(from, to) })
	}
}

func (r *Recorder) discardGameLocked(reason string) {
	if r.gameDiscarded || r.joined {
		return
	}
	r.gameDiscarded = true
	state := r.sm.State()
	if state == StateRecording || state == StateFinishingGame {
		r.gamesDiscarded++
		metrics.GamesDiscarded.Inc()
		r.logger.Info().
			Str("game_id", r.game.GameID()).
			Str("reason", reason).
			Msg("partial game discarded")
	}
}

func (r *Recorder) timeLimitLocked() bool {
	limit := r.session.Limits.MaxDuration
	return limit > 0 && r.now().Sub(r.session.StartedAt) >= limit
}

func (r *Recorder) gameLimitLocked() bool {
	limit := r.session.Limits.MaxGames
	return limit > 0 && r.session.GamesRecorded >= limit
}

// sessionDoneLocked reports whether the session should end now
func (r *Recorder) sessionDoneLocked() (string, bool) {
	switch {
	case r.gameLimitLocked():
		return EndReasonGameLimit, true
	case r.timeLimitLocked():
		return EndReasonTimeLimit, true
	case r.stopRequested:
		return EndReasonRequested, true
	}
	return "", false
}

func (r *Recorder) limitReasonLocked() string {
	if reason, done := r.sessionDoneLocked(); done {
		return reason
	}
	return EndReasonTimeLimit
}

// finishSessionLocked writes the player session and returns to IDLE
func (r *Recorder) finishSessionLocked(reason string) (SessionSummary, error) {
	end := r.now()
	summary := SessionSummary{
		Session:         *r.session,
		EndedAt:         end,
		Reason:          reason,
		GamesDiscarded:  r.gamesDiscarded,
		ActionsRecorded: r.player.Len(),
	}

	path, err := r.player.Save(r.cfg.Dir, end)
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", summary.SessionID).Msg("failed to save player session")
	}
	summary.SessionFile = path

	r.sm.Stop()
	r.clearSessionLocked()

	r.logger.Info().
		Str("session_id", summary.SessionID).
		Str("reason", reason).
		Int("games_recorded", summary.GamesRecorded).
		Int("games_discarded", summary.GamesDiscarded).
		Msg("recording session complete")

	if cb := r.callbacks.OnSessionComplete; cb != nil {
		r.queue(func() { cb(summary) })
	}
	return summary, err
}

func (r *Recorder) clearSessionLocked() {
	r.session = nil
	r.player = nil
	r.game = nil
	r.joined = false
	r.gameDiscarded = false
	r.connectionLost = false
	r.stopRequested = false
}

// queue adds fn to run once mu is released
func (r *Recorder) queue(fn func()) {
	r.pending = append(r.pending, fn)
}

func (r *Recorder) unlockAndNotify() {
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func setStateGauge(current State) {
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.RecorderState.WithLabelValues(string(s)).Set(v)
	}
}
