// Package session owns the lifecycle of the question currently being played:
// the countdown clock, the answer aggregation, the buzz arbitration, and the
// phase machine tying them together. All state lives behind one mutex, which
// is this package's rendition of a single-threaded event loop: clock ticks,
// channel events, and presenter commands mutate strictly one at a time, and a
// buzz race is won by whichever claim acquires the lock first.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"buzzmaster-console/internal/domain"
	"buzzmaster-console/internal/realtime"
)

// Phase is the round lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseSettled  Phase = "settled"
	PhaseRanked   Phase = "ranked"
	PhaseFinished Phase = "finished"
)

// Backend is the remote game service the controller consults. Failures leave
// the controller in its pre-call phase; the presenter may retry.
type Backend interface {
	CreateGame(ctx context.Context, name string, questionIDs []int, settings domain.GameSettings) (domain.Game, error)
	RegisterPlayer(ctx context.Context, gameID, buzzerID, name string) error
	StartGame(ctx context.Context, gameID string) error
	CurrentQuestion(ctx context.Context, gameID string) (domain.Question, error)
	// NextQuestion advances the backend's question pointer; ended reports
	// that the sequence is exhausted.
	NextQuestion(ctx context.Context, gameID string) (ended bool, err error)
	Ranking(ctx context.Context, gameID string) ([]domain.RankingEntry, error)
	Stats(ctx context.Context, gameID string) ([]domain.PlayerStats, error)
}

// Roster is the read side of the participant registry.
type Roster interface {
	Count() int
	Name(buzzerID string) string
	List() []domain.Buzzer
	Apply(msg realtime.Message)
}

// Controller is the game-master session orchestrator.
type Controller struct {
	backend  Backend
	channel  realtime.Channel
	roster   Roster
	clk      clockwork.Clock
	defaults domain.GameSettings
	clock    *Clock

	mu            sync.RWMutex
	phase         Phase
	game          *domain.Game
	question      *domain.Question
	questionIndex int
	remaining     int
	maxTime       int
	showAnswer    bool
	agg           *AnswerAggregator
	arbiter       *BuzzArbiter
	ranking       []domain.RankingEntry
	subscribers   map[chan RoundView]struct{}
}

// NewController wires the session orchestrator. Dependencies are passed
// explicitly so tests substitute fakes for the backend and the channel.
func NewController(backend Backend, channel realtime.Channel, roster Roster, clk clockwork.Clock, defaults domain.GameSettings) *Controller {
	c := &Controller{
		backend:     backend,
		channel:     channel,
		roster:      roster,
		clk:         clk,
		defaults:    defaults,
		phase:       PhaseIdle,
		agg:         NewAnswerAggregator(),
		arbiter:     NewBuzzArbiter(),
		subscribers: make(map[chan RoundView]struct{}),
	}
	c.clock = NewClock(clk, c.handleTick, c.handleExpiry)
	return c
}

// Run drains the realtime channel into the controller until the context ends
// or the channel closes. Roster events feed the registry; everything else is
// round input.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.channel.Events():
			if !ok {
				return
			}
			c.Dispatch(msg)
		}
	}
}

// Dispatch routes one inbound channel message.
func (c *Controller) Dispatch(msg realtime.Message) {
	switch msg.Type {
	case realtime.TypeBuzzerConnected, realtime.TypeBuzzerDisconnected,
		realtime.TypeBuzzerListUpdate, realtime.TypeBuzzerStatusUpdate:
		c.roster.Apply(msg)
		c.notify()
	case realtime.TypeAnswerReceived:
		c.handleAnswerReceived(msg)
	case realtime.TypeBuzzWinner:
		c.handleBuzzWinner(msg)
	case realtime.TypeBuzzValidated:
		c.handleBuzzValidated(msg)
	case realtime.TypeBuzzReopened:
		c.handleBuzzReopened(msg)
	case realtime.TypeQuestionAck:
		var p realtime.QuestionAckPayload
		if err := unmarshalPayload(msg, &p); err == nil {
			log.Debug().Int("sent_to", p.SentTo).Msg("question delivered to buzzers")
		}
	case realtime.TypeConnected:
		// Handshake is consumed by the channel driver; nothing to do here.
	default:
		log.Debug().Str("type", msg.Type).Msg("ignoring unknown channel event")
	}
}

// BeginGame creates the game on the backend, registers every connected buzzer
// as a player, starts the game, and announces it over the channel. Valid
// before any round and after a finished game.
func (c *Controller) BeginGame(ctx context.Context, name string, questionIDs []int) error {
	c.mu.Lock()
	if c.phase != PhaseIdle && c.phase != PhaseFinished {
		c.mu.Unlock()
		return fmt.Errorf("begin game: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	buzzers := c.roster.List()
	c.mu.Unlock()

	game, err := c.backend.CreateGame(ctx, name, questionIDs, c.defaults)
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	for _, b := range buzzers {
		if err := c.backend.RegisterPlayer(ctx, game.ID, b.ID, b.Name); err != nil {
			return fmt.Errorf("register player %s: %w", b.ID, err)
		}
	}
	if err := c.backend.StartGame(ctx, game.ID); err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	game.Status = domain.GameStarted

	c.mu.Lock()
	c.game = &game
	c.questionIndex = game.CurrentQuestionIndex
	c.question = nil
	c.ranking = nil
	c.showAnswer = false
	c.phase = PhaseIdle
	c.mu.Unlock()

	c.broadcast(realtime.TypeGameStart, realtime.GameStartPayload{
		GameID:         game.ID,
		Name:           game.Name,
		TotalQuestions: game.TotalQuestions,
	})
	log.Info().Str("game_id", game.ID).Int("players", len(buzzers)).
		Int("questions", game.TotalQuestions).Msg("game started")
	c.notify()
	return nil
}

// SendQuestion fetches the backend's current question, resets the round
// state, arms the clock, and broadcasts the question. Valid from Idle or
// Ranked; a backend failure leaves the phase untouched.
func (c *Controller) SendQuestion(ctx context.Context) error {
	c.mu.Lock()
	if c.game == nil {
		c.mu.Unlock()
		return domain.ErrNoGame
	}
	if err := c.sendableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	gameID := c.game.ID
	c.mu.Unlock()

	question, err := c.backend.CurrentQuestion(ctx, gameID)
	if err != nil {
		return fmt.Errorf("get current question: %w", err)
	}

	c.mu.Lock()
	if err := c.sendableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	duration := c.roundDuration(question)
	c.question = &question
	c.showAnswer = false
	c.agg.Reset(len(question.Options))
	c.arbiter.Reset()
	c.remaining = duration
	c.maxTime = duration
	c.phase = PhaseActive
	c.mu.Unlock()

	c.clock.Arm(duration)
	c.broadcast(realtime.TypeQuestionSend, realtime.QuestionSendPayload{
		GameID:     gameID,
		QuestionID: question.ID,
	})
	log.Info().Int("question_id", question.ID).Str("kind", string(question.Kind)).
		Int("duration_sec", duration).Msg("question sent")
	c.notify()
	return nil
}

// sendableLocked guards the phases a question may be sent from. Caller holds
// c.mu.
func (c *Controller) sendableLocked() error {
	if c.phase == PhaseFinished {
		return fmt.Errorf("send question: %w", domain.ErrGameExhausted)
	}
	if c.phase != PhaseIdle && c.phase != PhaseRanked {
		return fmt.Errorf("send question: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	return nil
}

// roundDuration picks the kind-appropriate countdown in seconds. A question's
// own time limit wins over the session settings. Caller holds c.mu.
func (c *Controller) roundDuration(q domain.Question) int {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	settings := c.defaults
	if c.game != nil && (c.game.Settings.MCQDuration > 0 || c.game.Settings.BuzzerDuration > 0) {
		settings = c.game.Settings
	}
	ms := settings.MCQDuration
	fallback := 30
	if q.Kind == domain.KindBuzzer {
		ms = settings.BuzzerDuration
		fallback = 10
	}
	if ms <= 0 {
		return fallback
	}
	return ms / 1000
}

// RevealResults freezes the round and reveals the answer. Valid from Active.
func (c *Controller) RevealResults() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return fmt.Errorf("reveal results: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	c.settleLocked(true)
	return nil
}

// ShowRanking fetches the leaderboard and moves to Ranked. Valid from Settled.
func (c *Controller) ShowRanking(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseSettled {
		c.mu.Unlock()
		return fmt.Errorf("show ranking: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	gameID := c.game.ID
	c.mu.Unlock()

	ranking, err := c.backend.Ranking(ctx, gameID)
	if err != nil {
		return fmt.Errorf("get ranking: %w", err)
	}

	c.mu.Lock()
	if c.phase != PhaseSettled {
		c.mu.Unlock()
		return fmt.Errorf("show ranking: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	c.ranking = ranking
	c.phase = PhaseRanked
	c.mu.Unlock()
	c.notify()
	return nil
}

// Advance asks the backend for the next question slot. Exhausted sequences
// finish the game; otherwise the controller returns to Idle for the next
// SendQuestion. Valid from Ranked.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseRanked {
		c.mu.Unlock()
		return fmt.Errorf("advance: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	gameID := c.game.ID
	c.mu.Unlock()

	ended, err := c.backend.NextQuestion(ctx, gameID)
	if err != nil {
		return fmt.Errorf("next question: %w", err)
	}

	if ended {
		// Refresh the final leaderboard; best effort, the last intermediate
		// ranking stays on screen if the call fails.
		finalRanking, rankErr := c.backend.Ranking(ctx, gameID)

		c.mu.Lock()
		if rankErr == nil {
			c.ranking = finalRanking
		}
		c.phase = PhaseFinished
		c.mu.Unlock()
		log.Info().Str("game_id", gameID).Msg("question sequence exhausted, game finished")
		c.notify()
		return nil
	}

	c.mu.Lock()
	c.questionIndex++
	c.question = nil
	c.phase = PhaseIdle
	c.mu.Unlock()
	c.notify()
	return nil
}

// ConfirmBuzzCorrect validates the held claim: the clock stops, the holder is
// credited a full-points submission, and the round settles. The judgement is
// also broadcast so the relay can credit the score server-side.
func (c *Controller) ConfirmBuzzCorrect() error {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return fmt.Errorf("confirm buzz: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	claim, err := c.arbiter.Validate()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	points := 0
	questionID := 0
	if c.question != nil {
		points = c.question.Points
		questionID = c.question.ID
	}
	c.creditClaimLocked(claim, points)
	c.settleLocked(false)
	gameID := c.game.ID
	c.mu.Unlock()

	c.broadcast(realtime.TypeBuzzCorrect, realtime.BuzzJudgementPayload{
		GameID:     gameID,
		QuestionID: questionID,
		BuzzerID:   claim.BuzzerID,
	})
	log.Info().Str("buzzer_id", claim.BuzzerID).Int("points", points).Msg("buzz validated")
	c.notify()
	return nil
}

// ReopenBuzz overturns the held claim: the holder is excluded for the rest of
// the round and the race reopens. The clock resumes when time remains;
// otherwise the round settles with the answer revealed.
func (c *Controller) ReopenBuzz() error {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return fmt.Errorf("reopen buzz: %w (phase %s)", domain.ErrBadPhase, c.phase)
	}
	overturned, err := c.arbiter.Reopen()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	questionID := 0
	if c.question != nil {
		questionID = c.question.ID
	}
	gameID := c.game.ID
	resume := c.remaining > 0
	if !resume {
		c.settleLocked(true)
	}
	c.mu.Unlock()

	if resume {
		c.resumeRace()
	}
	c.broadcast(realtime.TypeBuzzReopen, realtime.BuzzJudgementPayload{
		GameID:     gameID,
		QuestionID: questionID,
		BuzzerID:   overturned.BuzzerID,
	})
	log.Info().Str("buzzer_id", overturned.BuzzerID).Bool("resumed", resume).Msg("buzz reopened")
	c.notify()
	return nil
}

// EndGame finishes the session unconditionally.
func (c *Controller) EndGame() {
	c.mu.Lock()
	c.clock.Stop()
	c.phase = PhaseFinished
	c.mu.Unlock()
	c.notify()
}

// Stats passes the backend's per-player aggregates through for the results
// screen.
func (c *Controller) Stats(ctx context.Context) ([]domain.PlayerStats, error) {
	c.mu.RLock()
	if c.game == nil {
		c.mu.RUnlock()
		return nil, domain.ErrNoGame
	}
	gameID := c.game.ID
	c.mu.RUnlock()
	return c.backend.Stats(ctx, gameID)
}

// settleLocked freezes the round into Settled. Caller holds c.mu.
func (c *Controller) settleLocked(reveal bool) {
	c.clock.Stop()
	c.phase = PhaseSettled
	if reveal {
		c.showAnswer = true
	}
}

// creditClaimLocked records a synthetic submission for a validated claim.
// Caller holds c.mu.
func (c *Controller) creditClaimLocked(claim domain.BuzzClaim, points int) {
	name := claim.PlayerName
	if name == "" {
		name = c.roster.Name(claim.BuzzerID)
	}
	c.agg.Record(domain.AnswerSubmission{
		BuzzerID:     claim.BuzzerID,
		PlayerName:   name,
		Option:       domain.NoOption,
		Correct:      true,
		Points:       points,
		ResponseTime: claim.ResponseTime,
		ReceivedAt:   c.clk.Now(),
	})
}

// handleTick mirrors the clock into the read model.
func (c *Controller) handleTick(remaining int) {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	c.remaining = remaining
	c.mu.Unlock()
	c.notify()
}

// handleExpiry settles the round when the countdown runs out. For buzzer
// races the clock is paused while a claim is held, so expiry only fires with
// the race open.
func (c *Controller) handleExpiry() {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	if c.question != nil && c.question.Kind == domain.KindBuzzer && c.arbiter.State() == ArbiterHeld {
		// Presenter judgment pending; reopen decides what happens next.
		c.mu.Unlock()
		return
	}
	c.remaining = 0
	c.settleLocked(true)
	c.mu.Unlock()
	log.Info().Msg("round timed out")
	c.notify()
}

func (c *Controller) handleAnswerReceived(msg realtime.Message) {
	var p realtime.AnswerReceivedPayload
	if err := unmarshalPayload(msg, &p); err != nil {
		log.Warn().Err(err).Msg("dropping malformed answer payload")
		return
	}

	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	option := domain.NoOption
	if idx, ok := p.OptionIndex(); ok {
		option = idx
	}
	recorded := c.agg.Record(domain.AnswerSubmission{
		BuzzerID:     p.BuzzerID,
		PlayerName:   c.roster.Name(p.BuzzerID),
		Option:       option,
		Correct:      p.IsCorrect,
		Points:       p.Points,
		ResponseTime: p.ResponseTime,
		ReceivedAt:   c.clk.Now(),
	})
	c.mu.Unlock()

	if !recorded {
		log.Debug().Str("buzzer_id", p.BuzzerID).Msg("duplicate answer dropped")
		return
	}
	c.notify()
}

func (c *Controller) handleBuzzWinner(msg realtime.Message) {
	var p realtime.BuzzWinnerPayload
	if err := unmarshalPayload(msg, &p); err != nil {
		log.Warn().Err(err).Msg("dropping malformed buzz claim")
		return
	}

	c.mu.Lock()
	if c.phase != PhaseActive || c.question == nil || c.question.Kind != domain.KindBuzzer {
		c.mu.Unlock()
		return
	}
	name := p.PlayerName
	if name == "" {
		name = c.roster.Name(p.BuzzerID)
	}
	claimErr := c.arbiter.Claim(domain.BuzzClaim{
		BuzzerID:     p.BuzzerID,
		PlayerName:   name,
		ResponseTime: p.ResponseTime,
	})
	if claimErr == nil {
		// Freeze the countdown before releasing the lock so no tick lands
		// between the claim and the pause.
		c.clock.Pause()
	}
	c.mu.Unlock()

	if claimErr != nil {
		log.Debug().Err(claimErr).Str("buzzer_id", p.BuzzerID).Msg("buzz claim rejected")
		return
	}
	log.Info().Str("buzzer_id", p.BuzzerID).Int("response_ms", p.ResponseTime).Msg("buzz claim held")
	c.notify()
}

func (c *Controller) handleBuzzValidated(msg realtime.Message) {
	var p realtime.BuzzValidatedPayload
	if err := unmarshalPayload(msg, &p); err != nil {
		log.Warn().Err(err).Msg("dropping malformed buzz validation")
		return
	}

	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	claim, err := c.arbiter.Validate()
	if err != nil {
		c.mu.Unlock()
		return
	}
	points := p.Points
	if points == 0 && c.question != nil {
		points = c.question.Points
	}
	if p.ResponseTime > 0 {
		claim.ResponseTime = p.ResponseTime
	}
	c.creditClaimLocked(claim, points)
	c.settleLocked(false)
	c.mu.Unlock()

	log.Info().Str("buzzer_id", claim.BuzzerID).Int("points", points).Msg("buzz validated by relay")
	c.notify()
}

func (c *Controller) handleBuzzReopened(msg realtime.Message) {
	var p realtime.BuzzReopenedPayload
	if err := unmarshalPayload(msg, &p); err != nil {
		log.Warn().Err(err).Msg("dropping malformed buzz reopen")
		return
	}

	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	if c.arbiter.State() == ArbiterHeld {
		if _, err := c.arbiter.Reopen(); err != nil {
			c.mu.Unlock()
			return
		}
	}
	c.arbiter.Exclude(p.ExcludedPlayers)
	resume := c.remaining > 0
	if !resume {
		c.settleLocked(true)
	}
	c.mu.Unlock()

	if resume {
		c.resumeRace()
	}
	log.Info().Strs("excluded", p.ExcludedPlayers).Bool("resumed", resume).Msg("buzz reopened by relay")
	c.notify()
}

// resumeRace restarts the countdown after a reopen. Resume cannot run under
// c.mu (its remaining-zero path re-enters the controller through the expiry
// callback), which leaves a window where a fresh claim is accepted and pauses
// the clock just before the resume lands and undoes it. The re-check below
// restores the pause, so a held claim never has a running countdown.
func (c *Controller) resumeRace() {
	c.clock.Resume()
	c.mu.Lock()
	if c.phase == PhaseActive && c.arbiter.State() == ArbiterHeld {
		c.clock.Pause()
	}
	c.mu.Unlock()
}

// broadcast publishes one event, tolerating a disconnected channel: the round
// continues locally even if remote participants never hear about it.
func (c *Controller) broadcast(msgType string, payload any) {
	if err := c.channel.Send(msgType, payload); err != nil {
		log.Warn().Err(err).Str("type", msgType).Msg("channel broadcast dropped")
	}
}

func unmarshalPayload(msg realtime.Message, v any) error {
	return json.Unmarshal(msg.Payload, v)
}
