// Package realtime carries the duplex message channel between the console,
// the buzzer hardware, and the relay server. The console treats it as an
// at-least-once, unordered pipe; reconnect policy lives here, not in the
// session controller.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Message is the wire envelope shared by every channel driver.
type Message struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Sender    string          `json:"sender"`
	Payload   json.RawMessage `json:"payload"`
}

// SenderConsole tags outbound messages from the game-master console.
const SenderConsole = "CONSOLE"

// Inbound event kinds consumed by the console.
const (
	TypeConnected          = "CONNECTED"
	TypeAnswerReceived     = "ANSWER_RECEIVED"
	TypeBuzzWinner         = "BUZZ_WINNER"
	TypeBuzzValidated      = "BUZZ_VALIDATED"
	TypeBuzzReopened       = "BUZZ_REOPENED"
	TypeQuestionAck        = "QUESTION_SENT"
	TypeBuzzerConnected    = "BUZZER_CONNECTED"
	TypeBuzzerDisconnected = "BUZZER_DISCONNECTED"
	TypeBuzzerListUpdate   = "BUZZER_LIST_UPDATE"
	TypeBuzzerStatusUpdate = "BUZZER_STATUS_UPDATE"
)

// Outbound event kinds produced by the console.
const (
	TypeConsoleConnect    = "CONSOLE_CONNECT"
	TypeGameStart         = "GAME_START"
	TypeQuestionSend      = "QUESTION_SEND"
	TypeBuzzCorrect       = "BUZZ_CORRECT"
	TypeBuzzReopen        = "BUZZ_REOPEN"
	TypePlayerRename      = "PLAYER_RENAME"
	TypeBuzzerDisconnect  = "BUZZER_DISCONNECT"
	TypeRequestBuzzerList = "REQUEST_BUZZER_LIST"
)

// ConnectedPayload is the relay's handshake reply.
type ConnectedPayload struct {
	SessionID  string `json:"sessionID"`
	ServerTime int64  `json:"serverTime"`
}

// ConsoleConnectPayload identifies the console to the relay.
type ConsoleConnectPayload struct {
	Version string `json:"version"`
	Role    string `json:"role"`
}

// AnswerReceivedPayload carries one participant's answer. Answer is raw JSON
// so a malformed (non-numeric) option degrades to a no-tally submission
// instead of failing the whole message.
type AnswerReceivedPayload struct {
	BuzzerID     string          `json:"buzzerID"`
	Answer       json.RawMessage `json:"answer"`
	IsCorrect    bool            `json:"isCorrect"`
	Points       int             `json:"points"`
	ResponseTime int             `json:"responseTime"`
}

// OptionIndex decodes the selected option, reporting ok=false for absent or
// non-numeric values.
func (p AnswerReceivedPayload) OptionIndex() (int, bool) {
	if len(p.Answer) == 0 {
		return 0, false
	}
	var idx int
	if err := json.Unmarshal(p.Answer, &idx); err != nil {
		return 0, false
	}
	return idx, true
}

// BuzzWinnerPayload announces the first observed buzz claim.
type BuzzWinnerPayload struct {
	BuzzerID     string `json:"buzzerID"`
	PlayerName   string `json:"playerName"`
	ResponseTime int    `json:"responseTime"`
}

// BuzzValidatedPayload confirms a held claim as correct.
type BuzzValidatedPayload struct {
	BuzzerID     string `json:"buzzerID"`
	Points       int    `json:"points"`
	ResponseTime int    `json:"responseTime"`
}

// BuzzReopenedPayload reopens the race with the overturned claimants barred.
type BuzzReopenedPayload struct {
	ExcludedPlayers []string `json:"excludedPlayers"`
}

// QuestionAckPayload reports delivery fan-out, informational only.
type QuestionAckPayload struct {
	SentTo int `json:"sentTo"`
}

// GameStartPayload announces a new game to the participants.
type GameStartPayload struct {
	GameID         string `json:"gameId"`
	Name           string `json:"name"`
	TotalQuestions int    `json:"totalQuestions"`
}

// QuestionSendPayload asks the relay to push a question to the buzzers.
type QuestionSendPayload struct {
	GameID     string `json:"gameId"`
	QuestionID int    `json:"questionId"`
}

// BuzzJudgementPayload is shared by BUZZ_CORRECT and BUZZ_REOPEN.
type BuzzJudgementPayload struct {
	GameID     string `json:"gameId"`
	QuestionID int    `json:"questionId"`
	BuzzerID   string `json:"buzzerID"`
}

// BuzzerConnectedPayload announces a buzzer joining the roster.
type BuzzerConnectedPayload struct {
	Buzzer       BuzzerInfo `json:"buzzer"`
	TotalBuzzers int        `json:"totalBuzzers"`
}

// BuzzerInfo is the roster entry shape shared by connect and list updates.
type BuzzerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ConnectedAt int64  `json:"connectedAt"`
	Battery     int    `json:"battery,omitempty"`
	WifiRSSI    int    `json:"wifiRSSI,omitempty"`
	Latency     int    `json:"latency,omitempty"`
}

// BuzzerDisconnectedPayload announces a buzzer leaving the roster.
type BuzzerDisconnectedPayload struct {
	BuzzerID string `json:"buzzerID"`
}

// BuzzerListUpdatePayload is the full roster, in reply to REQUEST_BUZZER_LIST.
type BuzzerListUpdatePayload struct {
	Buzzers []BuzzerInfo `json:"buzzers"`
}

// BuzzerStatusUpdatePayload refreshes one buzzer's telemetry.
type BuzzerStatusUpdatePayload struct {
	BuzzerID string `json:"buzzerID"`
	Battery  int    `json:"battery"`
	WifiRSSI int    `json:"wifiRSSI"`
}

// PlayerRenamePayload renames a roster entry.
type PlayerRenamePayload struct {
	BuzzerID string `json:"buzzerID"`
	NewName  string `json:"newName"`
}

// Channel is a duplex message transport to the buzzer relay. Implementations
// own connect/reconnect and backoff; the session controller only sends and
// drains Events.
type Channel interface {
	// Connect establishes the transport. The context bounds the initial
	// connection attempt; reconnects afterwards follow the channel's policy.
	Connect(ctx context.Context) error
	// Send publishes one typed payload. Returns domain.ErrNotConnected while
	// the transport is down; callers log and carry on.
	Send(msgType string, payload any) error
	// Events streams inbound messages until Close.
	Events() <-chan Message
	// Connected reports transport liveness.
	Connected() bool
	// SessionID is the relay-assigned identity, empty before the handshake.
	SessionID() string
	// Close tears the transport down and closes Events.
	Close() error
}

// NewMessage builds an outbound envelope with the console sender tag.
func NewMessage(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Sender:    SenderConsole,
		Payload:   raw,
	}, nil
}
