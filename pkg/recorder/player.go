package recorder

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/shopspring/decimal"
)

// PlayerSession is the persisted record of one player's actions in a session
type PlayerSession struct {
	SessionID    string                     `json:"session_id"`
	Username     string                     `json:"username"`
	SessionStart time.Time                  `json:"session_start"`
	SessionEnd   *time.Time                 `json:"session_end"`
	Actions      []types.PlayerActionRecord `json:"actions"`
}

// SessionIndexEntry is one line of sessions/<date>/index.json
type SessionIndexEntry struct {
	SessionID    string          `json:"session_id"`
	Username     string          `json:"username"`
	TotalActions int             `json:"total_actions"`
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	SessionStart time.Time       `json:"session_start"`
	SessionEnd   time.Time       `json:"session_end"`
	File         string          `json:"file"`
}

// PlayerAccumulator collects a player's actions. Actions are append-only.
type PlayerAccumulator struct {
	session PlayerSession
}

// NewPlayerAccumulator starts a player session
func NewPlayerAccumulator(sessionID, username string, start time.Time) *PlayerAccumulator {
	return &PlayerAccumulator{
		session: PlayerSession{
			SessionID:    sessionID,
			Username:     username,
			SessionStart: start,
			Actions:      []types.PlayerActionRecord{},
		},
	}
}

// Add appends an action
func (p *PlayerAccumulator) Add(rec types.PlayerActionRecord) {
	p.session.Actions = append(p.session.Actions, rec)
}

// Len returns the number of recorded actions
func (p *PlayerAccumulator) Len() int {
	return len(p.session.Actions)
}

// TotalPnL sums the realized PnL of every action that carries one
func (p *PlayerAccumulator) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.session.Actions {
		if a.PnL != nil {
			total = total.Add(*a.PnL)
		}
	}
	return total
}

// Snapshot returns a copy of the session
func (p *PlayerAccumulator) Snapshot() PlayerSession {
	s := p.session
	s.Actions = append([]types.PlayerActionRecord(nil), p.session.Actions...)
	if p.session.SessionEnd != nil {
		end := *p.session.SessionEnd
		s.SessionEnd = &end
	}
	return s
}

// Save stamps the session end, writes
// sessions/<date>/session_<user>_<id>.json and appends the session to that
// date's index. It returns the path of the session file.
func (p *PlayerAccumulator) Save(dir string, end time.Time) (string, error) {
	p.session.SessionEnd = &end

	dateDir := filepath.Join(dir, "sessions", dateKey(p.session.SessionStart))
	name := fmt.Sprintf("session_%s_%s.json", sanitize(p.session.Username), sanitize(p.session.SessionID))
	path := filepath.Join(dateDir, name)

	if err := writeJSONAtomic(path, p.session); err != nil {
		return "", fmt.Errorf("failed to write session %s: %w", p.session.SessionID, err)
	}

	entry := SessionIndexEntry{
		SessionID:    p.session.SessionID,
		Username:     p.session.Username,
		TotalActions: len(p.session.Actions),
		TotalPnL:     p.TotalPnL(),
		SessionStart: p.session.SessionStart,
		SessionEnd:   end,
		File:         name,
	}
	if err := appendIndex(filepath.Join(dateDir, indexFile), entry); err != nil {
		return path, fmt.Errorf("failed to index session %s: %w", p.session.SessionID, err)
	}
	return path, nil
}
