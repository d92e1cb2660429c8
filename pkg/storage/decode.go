package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/types"
)

// ErrSkip is returned by Decode for events the store does not persist. It
// is not a failure.
var ErrSkip = errors.New("event not persisted")

var eventDocTypes = map[events.EventType]types.DocType{
	events.EventGameTick:                types.DocTypeGameTick,
	events.EventPlayerState:             types.DocTypeServerState,
	events.EventConnectionAuthenticated: types.DocTypeWsEvent,
	events.EventWsRawEvent:              types.DocTypeWsEvent,
	events.EventWsSourceChanged:         types.DocTypeWsEvent,
	events.EventTradeBuy:                types.DocTypePlayerAction,
	events.EventTradeSell:               types.DocTypePlayerAction,
	events.EventTradeSidebet:            types.DocTypePlayerAction,
	events.EventButtonPress:             types.DocTypeButtonEvent,
	events.EventGameComplete:            types.DocTypeCompleteGame,
}

var tradeActions = map[events.EventType]string{
	events.EventTradeBuy:     types.ActionBuy,
	events.EventTradeSell:    types.ActionSell,
	events.EventTradeSidebet: types.ActionSidebet,
}

// PersistedEvents returns the bus event types the store subscribes to
func PersistedEvents() []events.EventType {
	out := make([]events.EventType, 0, len(eventDocTypes))
	for et := range eventDocTypes {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DocTypeFor returns the document type an event type is stored as
func DocTypeFor(et events.EventType) (types.DocType, bool) {
	dt, ok := eventDocTypes[et]
	return dt, ok
}

// Decode turns a bus event into its document. It returns ErrSkip for event
// types that are not persisted and an error when the payload is unusable.
func Decode(e events.Event) (types.Document, error) {
	docType, ok := eventDocTypes[e.Type]
	if !ok {
		return nil, ErrSkip
	}

	switch docType {
	case types.DocTypeGameTick:
		return as[types.GameTick](e.Payload)
	case types.DocTypeServerState:
		return as[types.ServerState](e.Payload)
	case types.DocTypeButtonEvent:
		return as[types.ButtonEvent](e.Payload)
	case types.DocTypeCompleteGame:
		return as[types.CompleteGame](e.Payload)
	case types.DocTypePlayerAction:
		action, err := types.As[types.PlayerAction](e.Payload)
		if err != nil {
			return nil, err
		}
		if action.Action == "" {
			action.Action = tradeActions[e.Type]
		}
		return action, nil
	case types.DocTypeWsEvent:
		return decodeWsEvent(e)
	}
	return nil, ErrSkip
}

func as[T types.Document](payload any) (types.Document, error) {
	doc, err := types.As[T](payload)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeWsEvent keeps arbitrary payloads as raw JSON
func decodeWsEvent(e events.Event) (types.Document, error) {
	switch p := e.Payload.(type) {
	case types.WsEvent:
		return p, nil
	case *types.WsEvent:
		if p != nil {
			return *p, nil
		}
	}

	doc := types.WsEvent{Event: string(e.Type)}
	if e.Payload == nil {
		return doc, nil
	}

	var data json.RawMessage
	switch p := e.Payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", e.Type, err)
		}
		data = raw
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s payload is not valid JSON", e.Type)
	}
	doc.Data = data

	var ref struct {
		GameID  string `json:"game_id"`
		CamelID string `json:"gameId"`
	}
	if json.Unmarshal(data, &ref) == nil {
		doc.GameID = ref.GameID
		if doc.GameID == "" {
			doc.GameID = ref.CamelID
		}
	}
	return doc, nil
}
