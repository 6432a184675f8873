package domain

import "time"

// QuestionKind distinguishes multiple-choice questions from buzzer races.
type QuestionKind string

const (
	KindMCQ    QuestionKind = "mcq"
	KindBuzzer QuestionKind = "buzzer"
)

// Question is the content of one round, owned by the game backend and
// referenced read-only by the console. Wire names mirror the backend API.
type Question struct {
	ID             int          `json:"id"`
	Text           string       `json:"text"`
	Kind           QuestionKind `json:"type"`
	Options        []string     `json:"answers,omitempty"`
	CorrectOption  int          `json:"correct_answer"`
	ExpectedAnswer string       `json:"expected_answer,omitempty"` // validated by the presenter, not programmatically
	TimeLimit      int          `json:"time_limit,omitempty"`      // seconds; 0 means use the session default
	Points         int          `json:"points"`
	Category       string       `json:"category,omitempty"`
	Difficulty     string       `json:"difficulty,omitempty"`
}

// Buzzer is one hardware participant as seen by the console roster.
type Buzzer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Connected   bool   `json:"connected"`
	ConnectedAt int64  `json:"connectedAt,omitempty"`
	Battery     int    `json:"battery,omitempty"`
	WifiRSSI    int    `json:"wifiRSSI,omitempty"`
	Latency     int    `json:"latency,omitempty"`
}

// NoOption marks a submission without a selectable option (buzzer races,
// malformed payloads). It counts toward completion, never toward a tally.
const NoOption = -1

// AnswerSubmission is one participant's answer for the current round.
// ReceivedAt is the local receipt time, not the participant clock.
type AnswerSubmission struct {
	BuzzerID     string    `json:"buzzerID"`
	PlayerName   string    `json:"playerName"`
	Option       int       `json:"answer"`
	Correct      bool      `json:"isCorrect"`
	Points       int       `json:"points"`
	ResponseTime int       `json:"responseTime"` // milliseconds
	ReceivedAt   time.Time `json:"receivedAt"`
}

// BuzzClaim is a buzzer-race participant's "I buzzed first" signal.
type BuzzClaim struct {
	BuzzerID     string `json:"buzzerID"`
	PlayerName   string `json:"playerName"`
	ResponseTime int    `json:"responseTime"`
}

// GameStatus is the backend-owned lifecycle of a whole game.
type GameStatus string

const (
	GameCreated GameStatus = "created"
	GameStarted GameStatus = "started"
	GamePaused  GameStatus = "paused"
	GameEnded   GameStatus = "ended"
)

// GameSettings holds per-kind round durations and display toggles.
// Durations are milliseconds on the wire, as the backend stores them.
type GameSettings struct {
	MCQDuration             int  `json:"mcqDuration"`
	BuzzerDuration          int  `json:"buzzerDuration"`
	ShowCorrectAnswer       bool `json:"showCorrectAnswer"`
	ShowIntermediateRanking bool `json:"showIntermediateRanking"`
}

// Game is the backend's handle for one quiz session.
type Game struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Status               GameStatus   `json:"status"`
	QuestionIDs          []int        `json:"questionIds"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex"`
	TotalQuestions       int          `json:"totalQuestions"`
	PlayerCount          int          `json:"playerCount"`
	Settings             GameSettings `json:"settings"`
}

// RankingEntry is one leaderboard row, computed server-side; the console only
// displays what it receives.
type RankingEntry struct {
	Rank                int     `json:"rank"`
	BuzzerID            string  `json:"buzzerID"`
	Name                string  `json:"name"`
	Score               int     `json:"score"`
	CorrectAnswers      int     `json:"correctAnswers"`
	TotalAnswers        int     `json:"totalAnswers"`
	TotalResponseTime   int     `json:"totalResponseTime"`
	AvgResponseTime     float64 `json:"avgResponseTime"`
	FastestResponseTime int     `json:"fastestResponseTime"`
	SlowestResponseTime int     `json:"slowestResponseTime"`
}

// PlayerStats is the per-participant aggregate view from the backend.
type PlayerStats struct {
	BuzzerID        string  `json:"buzzerID"`
	Name            string  `json:"name"`
	Score           int     `json:"score"`
	CorrectAnswers  int     `json:"correctAnswers"`
	TotalAnswers    int     `json:"totalAnswers"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// Position is an on-screen avatar placement in canvas coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
