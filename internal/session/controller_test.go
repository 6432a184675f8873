package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"buzzmaster-console/internal/domain"
	"buzzmaster-console/internal/realtime"
	"buzzmaster-console/internal/registry"
)

type fakeBackend struct {
	mu          sync.Mutex
	game        domain.Game
	question    domain.Question
	questionErr error
	ranking     []domain.RankingEntry
	stats       []domain.PlayerStats
	ended       bool
	registered  []string
	started     bool
	nextCalls   int
}

func (f *fakeBackend) CreateGame(_ context.Context, name string, questionIDs []int, settings domain.GameSettings) (domain.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game = domain.Game{
		ID:             "game-1",
		Name:           name,
		Status:         domain.GameCreated,
		QuestionIDs:    questionIDs,
		TotalQuestions: len(questionIDs),
		Settings:       settings,
	}
	return f.game, nil
}

func (f *fakeBackend) RegisterPlayer(_ context.Context, _, buzzerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, buzzerID)
	return nil
}

func (f *fakeBackend) StartGame(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeBackend) CurrentQuestion(_ context.Context, _ string) (domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.questionErr != nil {
		return domain.Question{}, f.questionErr
	}
	return f.question, nil
}

func (f *fakeBackend) NextQuestion(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCalls++
	return f.ended, nil
}

func (f *fakeBackend) Ranking(_ context.Context, _ string) ([]domain.RankingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ranking, nil
}

func (f *fakeBackend) Stats(_ context.Context, _ string) ([]domain.PlayerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

type fakeChannel struct {
	mu        sync.Mutex
	events    chan realtime.Message
	sent      []realtime.Message
	connected bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan realtime.Message, 16), connected: true}
}

func (f *fakeChannel) Connect(context.Context) error { return nil }

func (f *fakeChannel) Send(msgType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return domain.ErrNotConnected
	}
	msg, err := realtime.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Events() <-chan realtime.Message { return f.events }
func (f *fakeChannel) Connected() bool                 { return f.connected }
func (f *fakeChannel) SessionID() string               { return "test-session" }
func (f *fakeChannel) Close() error                    { return nil }

func (f *fakeChannel) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.sent))
	for i, m := range f.sent {
		types[i] = m.Type
	}
	return types
}

func (f *fakeChannel) hasSent(msgType string) bool {
	for _, t := range f.sentTypes() {
		if t == msgType {
			return true
		}
	}
	return false
}

func event(t *testing.T, msgType string, payload any) realtime.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", msgType, err)
	}
	return realtime.Message{Type: msgType, Timestamp: time.Now().UnixMilli(), Sender: "SERVER", Payload: raw}
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func newTestController(t *testing.T, question domain.Question) (*Controller, *fakeBackend, *fakeChannel, *clockwork.FakeClock) {
	t.Helper()
	backend := &fakeBackend{question: question}
	channel := newFakeChannel()
	roster := registry.New()
	fake := clockwork.NewFakeClock()
	ctrl := NewController(backend, channel, roster, fake, domain.GameSettings{
		MCQDuration:    30000,
		BuzzerDuration: 10000,
	})

	ctrl.Dispatch(event(t, realtime.TypeBuzzerListUpdate, realtime.BuzzerListUpdatePayload{
		Buzzers: []realtime.BuzzerInfo{
			{ID: "b1", Name: "Ana"},
			{ID: "b2", Name: "Bo"},
		},
	}))
	return ctrl, backend, channel, fake
}

func TestMCQRoundLifecycle(t *testing.T) {
	ctx := context.Background()
	question := domain.Question{
		ID:            7,
		Text:          "Largest moon of Saturn?",
		Kind:          domain.KindMCQ,
		Options:       []string{"Titan", "Rhea", "Iapetus", "Dione"},
		CorrectOption: 0,
		Points:        10,
	}
	ctrl, backend, channel, _ := newTestController(t, question)
	backend.ranking = []domain.RankingEntry{{Rank: 1, BuzzerID: "b1", Name: "Ana", Score: 10}}

	if err := ctrl.BeginGame(ctx, "friday night", []int{7, 8}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	if !backend.started || len(backend.registered) != 2 {
		t.Fatalf("expected both buzzers registered and game started, got %+v started=%v", backend.registered, backend.started)
	}
	if !channel.hasSent(realtime.TypeGameStart) {
		t.Fatalf("game start not announced, sent %v", channel.sentTypes())
	}

	if err := ctrl.SendQuestion(ctx); err != nil {
		t.Fatalf("send question: %v", err)
	}
	view := ctrl.Snapshot()
	if view.Phase != PhaseActive || view.TimeRemaining != 30 || view.MaxTime != 30 {
		t.Fatalf("unexpected round start view %+v", view)
	}
	if !channel.hasSent(realtime.TypeQuestionSend) {
		t.Fatalf("question not broadcast, sent %v", channel.sentTypes())
	}

	ctrl.Dispatch(event(t, realtime.TypeAnswerReceived, map[string]any{
		"buzzerID": "b1", "answer": 0, "isCorrect": true, "points": 10, "responseTime": 1200,
	}))
	ctrl.Dispatch(event(t, realtime.TypeAnswerReceived, map[string]any{
		"buzzerID": "b2", "answer": 2, "isCorrect": false, "responseTime": 2400,
	}))
	// duplicate from b1 must not change anything
	ctrl.Dispatch(event(t, realtime.TypeAnswerReceived, map[string]any{
		"buzzerID": "b1", "answer": 2,
	}))

	view = ctrl.Snapshot()
	if view.Completion != 2 || !view.AllAnswered {
		t.Fatalf("expected both answers in, got %+v", view)
	}
	if view.Tallies[0] != 1 || view.Tallies[2] != 1 {
		t.Fatalf("unexpected tallies %v", view.Tallies)
	}
	if view.Shares[0] != 0.5 {
		t.Fatalf("expected share 0.5 for option 0, got %v", view.Shares)
	}

	if err := ctrl.RevealResults(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	view = ctrl.Snapshot()
	if view.Phase != PhaseSettled || !view.ShowAnswer {
		t.Fatalf("expected settled round with answer shown, got %+v", view)
	}

	if err := ctrl.ShowRanking(ctx); err != nil {
		t.Fatalf("show ranking: %v", err)
	}
	view = ctrl.Snapshot()
	if view.Phase != PhaseRanked || len(view.Ranking) != 1 || view.Ranking[0].BuzzerID != "b1" {
		t.Fatalf("unexpected ranked view %+v", view)
	}

	if err := ctrl.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	view = ctrl.Snapshot()
	if view.Phase != PhaseIdle || view.QuestionIndex != 1 {
		t.Fatalf("expected idle at next question, got %+v", view)
	}
	if err := ctrl.Advance(ctx); !errors.Is(err, domain.ErrBadPhase) {
		t.Fatalf("expected ErrBadPhase on advance from idle, got %v", err)
	}
}

func TestBuzzerRoundClaimReopenValidate(t *testing.T) {
	ctx := context.Background()
	question := domain.Question{
		ID:             9,
		Text:           "Name the capital of Mongolia",
		Kind:           domain.KindBuzzer,
		ExpectedAnswer: "Ulaanbaatar",
		Points:         15,
	}
	ctrl, _, channel, fake := newTestController(t, question)

	if err := ctrl.BeginGame(ctx, "showdown", []int{9}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	if err := ctrl.SendQuestion(ctx); err != nil {
		t.Fatalf("send question: %v", err)
	}
	if got := ctrl.Snapshot().MaxTime; got != 10 {
		t.Fatalf("expected buzzer duration 10s, got %d", got)
	}

	fake.BlockUntil(1)
	for want := 9; want >= 7; want-- {
		fake.Advance(time.Second)
		waitFor(t, func() bool { return ctrl.Snapshot().TimeRemaining == want }, "countdown tick")
	}

	ctrl.Dispatch(event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{
		BuzzerID: "b1", PlayerName: "Ana", ResponseTime: 800,
	}))
	view := ctrl.Snapshot()
	if view.BuzzState != "held" || view.HeldClaim == nil || view.HeldClaim.BuzzerID != "b1" {
		t.Fatalf("expected b1 claim held, got %+v", view)
	}

	// the countdown is frozen while the claim awaits judgment
	fake.Advance(time.Second)
	fake.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := ctrl.Snapshot().TimeRemaining; got != 7 {
		t.Fatalf("expected clock paused at 7, got %d", got)
	}

	if err := ctrl.ReopenBuzz(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !channel.hasSent(realtime.TypeBuzzReopen) {
		t.Fatalf("reopen not broadcast, sent %v", channel.sentTypes())
	}
	fake.Advance(time.Second)
	waitFor(t, func() bool { return ctrl.Snapshot().TimeRemaining == 6 }, "countdown resume")

	// the overturned claimant is barred for the rest of the round
	ctrl.Dispatch(event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{BuzzerID: "b1"}))
	if got := ctrl.Snapshot().BuzzState; got != "open" {
		t.Fatalf("excluded claimant re-claimed, state %s", got)
	}

	ctrl.Dispatch(event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{
		BuzzerID: "b2", PlayerName: "Bo", ResponseTime: 950,
	}))
	if got := ctrl.Snapshot().BuzzState; got != "held" {
		t.Fatalf("expected b2 claim held, state %s", got)
	}

	if err := ctrl.ConfirmBuzzCorrect(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	view = ctrl.Snapshot()
	if view.Phase != PhaseSettled || view.ShowAnswer {
		t.Fatalf("expected settled round without auto-reveal, got %+v", view)
	}
	if len(view.Submissions) != 1 {
		t.Fatalf("expected exactly one credited submission, got %+v", view.Submissions)
	}
	sub := view.Submissions[0]
	if sub.BuzzerID != "b2" || !sub.Correct || sub.Points != 15 {
		t.Fatalf("unexpected credited submission %+v", sub)
	}
	if !channel.hasSent(realtime.TypeBuzzCorrect) {
		t.Fatalf("judgement not broadcast, sent %v", channel.sentTypes())
	}
}

func TestReopenWithNoTimeLeftRevealsAnswer(t *testing.T) {
	ctx := context.Background()
	question := domain.Question{
		ID:             11,
		Kind:           domain.KindBuzzer,
		ExpectedAnswer: "42",
		Points:         5,
	}
	ctrl, _, channel, _ := newTestController(t, question)

	if err := ctrl.BeginGame(ctx, "g", []int{11}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	if err := ctrl.SendQuestion(ctx); err != nil {
		t.Fatalf("send question: %v", err)
	}

	// a claim observed between the final tick and the expiry callback: the
	// countdown reads zero but judgment is still pending, so the expiry is
	// suppressed
	ctrl.handleTick(0)
	ctrl.Dispatch(event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{
		BuzzerID: "b1", PlayerName: "Ana", ResponseTime: 9900,
	}))
	ctrl.handleExpiry()

	view := ctrl.Snapshot()
	if view.Phase != PhaseActive || view.BuzzState != "held" || view.TimeRemaining != 0 {
		t.Fatalf("expected held claim with no time left, got %+v", view)
	}

	// with nothing left on the clock, overturning the claim ends the round
	// with the answer revealed instead of resuming
	if err := ctrl.ReopenBuzz(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	view = ctrl.Snapshot()
	if view.Phase != PhaseSettled || !view.ShowAnswer {
		t.Fatalf("expected settled round with answer revealed, got %+v", view)
	}
	if !channel.hasSent(realtime.TypeBuzzReopen) {
		t.Fatalf("reopen not broadcast, sent %v", channel.sentTypes())
	}
}

func TestReopenRacingClaimKeepsClockPaused(t *testing.T) {
	ctx := context.Background()
	question := domain.Question{
		ID:             12,
		Kind:           domain.KindBuzzer,
		ExpectedAnswer: "x",
		Points:         5,
	}

	// a fresh claim can land between the reopen's commit and the countdown
	// resume; whenever a claim ends up held, the clock must be paused
	for i := 0; i < 300; i++ {
		ctrl, _, _, _ := newTestController(t, question)
		if err := ctrl.BeginGame(ctx, "g", []int{12}); err != nil {
			t.Fatalf("begin game: %v", err)
		}
		if err := ctrl.SendQuestion(ctx); err != nil {
			t.Fatalf("send question: %v", err)
		}
		ctrl.Dispatch(event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{
			BuzzerID: "b1", PlayerName: "Ana",
		}))

		rival := event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{
			BuzzerID: "b2", PlayerName: "Bo",
		})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = ctrl.ReopenBuzz()
		}()
		go func() {
			defer wg.Done()
			ctrl.Dispatch(rival)
		}()
		wg.Wait()

		if v := ctrl.Snapshot(); v.BuzzState == "held" && !ctrl.clock.Paused() {
			t.Fatalf("iteration %d: claim is held but the countdown is running", i)
		}
		ctrl.EndGame()
	}
}

func TestRoundExpiresAndSettles(t *testing.T) {
	ctx := context.Background()
	question := domain.Question{
		ID:        3,
		Kind:      domain.KindMCQ,
		Options:   []string{"yes", "no"},
		TimeLimit: 2,
		Points:    5,
	}
	ctrl, _, _, fake := newTestController(t, question)

	if err := ctrl.BeginGame(ctx, "quickie", []int{3}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	if err := ctrl.SendQuestion(ctx); err != nil {
		t.Fatalf("send question: %v", err)
	}
	if got := ctrl.Snapshot().MaxTime; got != 2 {
		t.Fatalf("expected question time limit to win, got %d", got)
	}

	fake.BlockUntil(1)
	fake.Advance(time.Second)
	waitFor(t, func() bool { return ctrl.Snapshot().TimeRemaining == 1 }, "first tick")
	fake.Advance(time.Second)
	waitFor(t, func() bool {
		v := ctrl.Snapshot()
		return v.Phase == PhaseSettled && v.ShowAnswer && v.TimeRemaining == 0
	}, "round expiry")

	// late answers after expiry are discarded
	ctrl.Dispatch(event(t, realtime.TypeAnswerReceived, map[string]any{"buzzerID": "b1", "answer": 0}))
	if got := ctrl.Snapshot().Completion; got != 0 {
		t.Fatalf("late answer recorded after settle, completion %d", got)
	}
}

func TestSendQuestionBackendFailureKeepsPhase(t *testing.T) {
	ctx := context.Background()
	ctrl, backend, channel, _ := newTestController(t, domain.Question{ID: 1, Kind: domain.KindMCQ})

	if err := ctrl.BeginGame(ctx, "g", []int{1}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	backend.questionErr = errors.New("internal server error")

	if err := ctrl.SendQuestion(ctx); err == nil {
		t.Fatalf("expected error from backend failure")
	}
	if got := ctrl.Snapshot().Phase; got != PhaseIdle {
		t.Fatalf("backend failure moved phase to %s", got)
	}
	if channel.hasSent(realtime.TypeQuestionSend) {
		t.Fatalf("question broadcast despite backend failure")
	}
}

func TestStaleEventsAreDiscarded(t *testing.T) {
	ctx := context.Background()
	ctrl, _, _, _ := newTestController(t, domain.Question{
		ID: 2, Kind: domain.KindMCQ, Options: []string{"a", "b"},
	})

	// answers with no active round
	ctrl.Dispatch(event(t, realtime.TypeAnswerReceived, map[string]any{"buzzerID": "b1", "answer": 1}))
	if got := ctrl.Snapshot().Completion; got != 0 {
		t.Fatalf("answer recorded outside a round, completion %d", got)
	}

	if err := ctrl.BeginGame(ctx, "g", []int{2}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	if err := ctrl.SendQuestion(ctx); err != nil {
		t.Fatalf("send question: %v", err)
	}

	// buzz claims during a multiple-choice round are noise
	ctrl.Dispatch(event(t, realtime.TypeBuzzWinner, realtime.BuzzWinnerPayload{BuzzerID: "b1"}))
	if got := ctrl.Snapshot().BuzzState; got != "open" {
		t.Fatalf("buzz claim held during mcq round, state %s", got)
	}

	// malformed answer option still counts toward completion
	ctrl.Dispatch(event(t, realtime.TypeAnswerReceived, map[string]any{"buzzerID": "b1", "answer": "banana"}))
	view := ctrl.Snapshot()
	if view.Completion != 1 {
		t.Fatalf("malformed answer not counted, view %+v", view)
	}
	if view.Tallies[0] != 0 || view.Tallies[1] != 0 {
		t.Fatalf("malformed answer tallied, %v", view.Tallies)
	}
}

func TestAdvanceFinishesExhaustedGame(t *testing.T) {
	ctx := context.Background()
	ctrl, backend, _, _ := newTestController(t, domain.Question{ID: 1, Kind: domain.KindMCQ, Options: []string{"a"}})
	backend.ranking = []domain.RankingEntry{{Rank: 1, BuzzerID: "b2", Name: "Bo", Score: 3}}

	if err := ctrl.BeginGame(ctx, "g", []int{1}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	if err := ctrl.SendQuestion(ctx); err != nil {
		t.Fatalf("send question: %v", err)
	}
	if err := ctrl.RevealResults(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := ctrl.ShowRanking(ctx); err != nil {
		t.Fatalf("ranking: %v", err)
	}

	backend.ended = true
	if err := ctrl.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	view := ctrl.Snapshot()
	if view.Phase != PhaseFinished {
		t.Fatalf("expected finished game, got %s", view.Phase)
	}
	if len(view.Ranking) != 1 || view.Ranking[0].BuzzerID != "b2" {
		t.Fatalf("final ranking not refreshed, got %+v", view.Ranking)
	}
	if err := ctrl.SendQuestion(ctx); !errors.Is(err, domain.ErrGameExhausted) {
		t.Fatalf("expected ErrGameExhausted after the final question, got %v", err)
	}

	// a finished game can host a rematch
	if err := ctrl.BeginGame(ctx, "rematch", []int{1}); err != nil {
		t.Fatalf("rematch: %v", err)
	}
	if got := ctrl.Snapshot().Phase; got != PhaseIdle {
		t.Fatalf("expected idle after rematch setup, got %s", got)
	}
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	ctx := context.Background()
	ctrl, _, _, _ := newTestController(t, domain.Question{ID: 1, Kind: domain.KindMCQ, Options: []string{"a"}})

	views, cancel := ctrl.Subscribe()
	defer cancel()

	first := <-views
	if first.Phase != PhaseIdle {
		t.Fatalf("expected initial idle snapshot, got %+v", first)
	}

	if err := ctrl.BeginGame(ctx, "g", []int{1}); err != nil {
		t.Fatalf("begin game: %v", err)
	}
	waitFor(t, func() bool {
		select {
		case v := <-views:
			return v.GameID == "game-1"
		default:
			return false
		}
	}, "game snapshot")
}
