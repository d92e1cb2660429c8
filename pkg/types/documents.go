package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocType tags the variant of a persisted document
type DocType string

const (
	DocTypeWsEvent      DocType = "ws_event"
	DocTypeGameTick     DocType = "game_tick"
	DocTypePlayerAction DocType = "player_action"
	DocTypeServerState  DocType = "server_state"
	DocTypeButtonEvent  DocType = "button_event"
	DocTypeCompleteGame DocType = "complete_game"
)

// DocTypes lists every known document type
var DocTypes = []DocType{
	DocTypeWsEvent,
	DocTypeGameTick,
	DocTypePlayerAction,
	DocTypeServerState,
	DocTypeButtonEvent,
	DocTypeCompleteGame,
}

// Valid reports whether d is a known document type
func (d DocType) Valid() bool {
	for _, known := range DocTypes {
		if d == known {
			return true
		}
	}
	return false
}

// Direction of a document relative to this process
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
	DirectionInternal Direction = "internal"
)

// Document is implemented by every doc_type variant
type Document interface {
	DocType() DocType
	GameRef() string
}

// WsEvent is a raw transport frame kept for audit
type WsEvent struct {
	Event  string          `json:"event"`
	GameID string          `json:"game_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (WsEvent) DocType() DocType   { return DocTypeWsEvent }
func (d WsEvent) GameRef() string { return d.GameID }

// GameTick is one normalized game state frame
type GameTick struct {
	GameID            string          `json:"game_id"`
	Tick              int             `json:"tick"`
	Price             decimal.Decimal `json:"price"`
	Active            bool            `json:"active"`
	Rugged            bool            `json:"rugged"`
	CooldownTimerMs   int             `json:"cooldown_timer_ms"`
	AllowPreRoundBuys bool            `json:"allow_pre_round_buys"`
	TradeCount        int             `json:"trade_count"`
	Phase             string          `json:"phase,omitempty"`

	// GameHistory is only present on the frames around the rug
	GameHistory []HistoryEntry `json:"game_history,omitempty"`
}

func (GameTick) DocType() DocType   { return DocTypeGameTick }
func (d GameTick) GameRef() string { return d.GameID }

// Signal converts the tick into the classifier input
func (d GameTick) Signal() GameSignal {
	return GameSignal{
		GameID:            d.GameID,
		Active:            d.Active,
		Rugged:            d.Rugged,
		TickCount:         d.Tick,
		Price:             d.Price,
		CooldownTimerMs:   d.CooldownTimerMs,
		AllowPreRoundBuys: d.AllowPreRoundBuys,
		TradeCount:        d.TradeCount,
		GameHistory:       d.GameHistory,
	}
}

// HistoryFor returns the history entry for gameID, if the frame carried one
func (d GameTick) HistoryFor(gameID string) (HistoryEntry, bool) {
	for _, h := range d.GameHistory {
		if h.GameID == gameID {
			return h, true
		}
	}
	return HistoryEntry{}, false
}

// PlayerAction is a trade or side bet. BalanceAfter and PositionQtyAfter
// are invalid when the trade did not report them, which is distinct from an
// explicit zero.
type PlayerAction struct {
	GameID           string              `json:"game_id"`
	Username         string              `json:"username,omitempty"`
	Action           string              `json:"action"`
	Tick             int                 `json:"tick"`
	Amount           decimal.Decimal     `json:"amount"`
	Price            decimal.Decimal     `json:"price"`
	BalanceAfter     decimal.NullDecimal `json:"balance_after"`
	PositionQtyAfter decimal.NullDecimal `json:"position_qty_after"`
	PnL              *decimal.Decimal    `json:"pnl,omitempty"`
}

func (PlayerAction) DocType() DocType   { return DocTypePlayerAction }
func (d PlayerAction) GameRef() string { return d.GameID }

// Record converts the document into the recorder's append-only shape
func (d PlayerAction) Record(ts time.Time) PlayerActionRecord {
	return PlayerActionRecord{
		GameID:           d.GameID,
		Tick:             d.Tick,
		Timestamp:        ts,
		Action:           d.Action,
		Amount:           d.Amount,
		Price:            d.Price,
		BalanceAfter:     d.BalanceAfter.Decimal,
		PositionQtyAfter: d.PositionQtyAfter.Decimal,
		PnL:              d.PnL,
	}
}

// ServerState is the server's view of the player's balance and position
type ServerState struct {
	GameID        string          `json:"game_id,omitempty"`
	Username      string          `json:"username,omitempty"`
	PlayerID      string          `json:"player_id,omitempty"`
	Cash          decimal.Decimal `json:"cash"`
	PositionQty   decimal.Decimal `json:"position_qty"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	TotalInvested decimal.Decimal `json:"total_invested"`
}

func (ServerState) DocType() DocType   { return DocTypeServerState }
func (d ServerState) GameRef() string { return d.GameID }

// ButtonEvent is a UI button press reported by the automation layer
type ButtonEvent struct {
	GameID string          `json:"game_id,omitempty"`
	Button string          `json:"button"`
	Tick   int             `json:"tick"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

func (ButtonEvent) DocType() DocType   { return DocTypeButtonEvent }
func (d ButtonEvent) GameRef() string { return d.GameID }

// CompleteGame is a finalized game with its full price series
type CompleteGame struct {
	GameMeta
	Prices []decimal.NullDecimal `json:"prices"`
}

func (CompleteGame) DocType() DocType   { return DocTypeCompleteGame }
func (d CompleteGame) GameRef() string { return d.GameID }

// Envelope carries the fields shared by every persisted row
type Envelope struct {
	Ts        time.Time `json:"ts"`
	Source    string    `json:"source"`
	DocType   DocType   `json:"doc_type"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Direction Direction `json:"direction"`
	GameID    string    `json:"game_id,omitempty"`
}

// Row is an envelope plus its document, serialized as one flat object
type Row struct {
	Envelope
	Doc Document
}

// MarshalJSON flattens the envelope and document fields into one object.
// Envelope fields win over document fields with the same name.
func (r Row) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if r.Doc != nil {
		docJSON, err := json.Marshal(r.Doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s document: %w", r.DocType, err)
		}
		if err := json.Unmarshal(docJSON, &fields); err != nil {
			return nil, fmt.Errorf("document %s is not an object: %w", r.DocType, err)
		}
	}

	envJSON, err := json.Marshal(r.Envelope)
	if err != nil {
		return nil, err
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return nil, err
	}
	for k, v := range env {
		fields[k] = v
	}
	return json.Marshal(fields)
}
