// Package http serves the presenter UI's websocket: a stream of composed
// state frames out, game-master commands in.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"buzzmaster-console/internal/domain"
	"buzzmaster-console/internal/layout"
	"buzzmaster-console/internal/realtime"
	"buzzmaster-console/internal/registry"
	"buzzmaster-console/internal/session"
)

var (
	errInvalidPayload     = errors.New("invalid command payload")
	errUnsupportedCommand = errors.New("unsupported command type")
)

// QuestionBank lists the backend's question catalogue for the game-setup
// screen.
type QuestionBank interface {
	Questions(ctx context.Context) ([]domain.Question, error)
}

type WSHandler struct {
	controller *session.Controller
	roster     *registry.Registry
	layout     *layout.Manager
	channel    realtime.Channel
	bank       QuestionBank
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(controller *session.Controller, roster *registry.Registry, lm *layout.Manager, channel realtime.Channel, bank QuestionBank, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		controller: controller,
		roster:     roster,
		layout:     lm,
		channel:    channel,
		bank:       bank,
		log:        log.With().Str("component", "presenter-ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startGamePayload struct {
	Name        string `json:"name"`
	QuestionIDs []int  `json:"questionIds"`
}

type renamePayload struct {
	BuzzerID string `json:"buzzerID"`
	NewName  string `json:"newName"`
}

type buzzerRefPayload struct {
	BuzzerID string `json:"buzzerID"`
}

type dragPayload struct {
	BuzzerID string  `json:"buzzerID"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// stateFrame is the composite snapshot the presenter renders from.
type stateFrame struct {
	Round          session.RoundView          `json:"round"`
	Buzzers        []domain.Buzzer            `json:"buzzers"`
	Positions      map[string]domain.Position `json:"positions"`
	RelayConnected bool                       `json:"relayConnected"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the presenter connection and pumps state frames until the
// client goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.controller.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("presenter write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: h.composeFrame(r, view)}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var cmd inboundCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}
		if err := h.dispatch(r, cmd, send); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// composeFrame joins the round projection with roster and layout. Layout for
// newly seen buzzers is assigned lazily here so the first frame after a mass
// connect already has everyone placed.
func (h *WSHandler) composeFrame(r *http.Request, view session.RoundView) stateFrame {
	ids := h.roster.IDs()
	h.layout.EnsureLayout(r.Context(), ids)
	return stateFrame{
		Round:          view,
		Buzzers:        h.roster.List(),
		Positions:      h.layout.Positions(),
		RelayConnected: h.channel.Connected(),
	}
}

func (h *WSHandler) dispatch(r *http.Request, cmd inboundCommand, send chan<- outboundMessage[any]) error {
	ctx := r.Context()
	switch cmd.Type {
	case "start_game":
		var p startGamePayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errInvalidPayload
		}
		return h.controller.BeginGame(ctx, p.Name, p.QuestionIDs)
	case "send_question":
		return h.controller.SendQuestion(ctx)
	case "reveal_results":
		return h.controller.RevealResults()
	case "show_ranking":
		return h.controller.ShowRanking(ctx)
	case "next_question":
		return h.controller.Advance(ctx)
	case "confirm_buzz":
		return h.controller.ConfirmBuzzCorrect()
	case "reopen_buzz":
		return h.controller.ReopenBuzz()
	case "end_game":
		h.controller.EndGame()
		return nil
	case "list_questions":
		questions, err := h.bank.Questions(ctx)
		if err != nil {
			return err
		}
		send <- outboundMessage[any]{Type: "questions", Payload: questions}
		return nil
	case "stats":
		stats, err := h.controller.Stats(ctx)
		if err != nil {
			return err
		}
		send <- outboundMessage[any]{Type: "stats", Payload: stats}
		return nil
	case "rename_player":
		var p renamePayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errInvalidPayload
		}
		if err := h.roster.Rename(p.BuzzerID, p.NewName); err != nil {
			return err
		}
		return h.channel.Send(realtime.TypePlayerRename, realtime.PlayerRenamePayload{BuzzerID: p.BuzzerID, NewName: p.NewName})
	case "disconnect_buzzer":
		var p buzzerRefPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errInvalidPayload
		}
		return h.channel.Send(realtime.TypeBuzzerDisconnect, realtime.BuzzerDisconnectedPayload{BuzzerID: p.BuzzerID})
	case "request_buzzer_list":
		return h.channel.Send(realtime.TypeRequestBuzzerList, struct{}{})
	case "begin_drag":
		var p dragPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errInvalidPayload
		}
		h.layout.BeginDrag(p.BuzzerID, domain.Position{X: p.X, Y: p.Y})
		return nil
	case "drag":
		var p dragPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errInvalidPayload
		}
		h.layout.UpdateDrag(domain.Position{X: p.X, Y: p.Y})
		return nil
	case "end_drag":
		h.layout.EndDrag(ctx)
		return nil
	case "reset_layout":
		h.layout.Reset(ctx)
		return nil
	default:
		return errUnsupportedCommand
	}
}
