package session

import (
	"buzzmaster-console/internal/domain"
)

// RoundView is the presentation read model: a pure projection of controller
// state, recomputed on every mutation. The display layer never derives
// business data on its own.
type RoundView struct {
	Phase          Phase                     `json:"phase"`
	GameID         string                    `json:"gameId,omitempty"`
	GameName       string                    `json:"gameName,omitempty"`
	QuestionIndex  int                       `json:"questionIndex"`
	TotalQuestions int                       `json:"totalQuestions"`
	Question       *domain.Question          `json:"question,omitempty"`
	TimeRemaining  int                       `json:"timeRemaining"`
	MaxTime        int                       `json:"maxTime"`
	TimePercent    int                       `json:"timePercent"`
	ShowAnswer     bool                      `json:"showAnswer"`
	BuzzerCount    int                       `json:"buzzerCount"`
	Submissions    []domain.AnswerSubmission `json:"submissions"`
	Tallies        []int                     `json:"tallies"`
	Shares         []float64                 `json:"shares"`
	Completion     int                       `json:"completion"`
	AllAnswered    bool                      `json:"allAnswered"`
	BuzzState      string                    `json:"buzzState"`
	HeldClaim      *domain.BuzzClaim         `json:"heldClaim,omitempty"`
	Excluded       []string                  `json:"excluded"`
	Ranking        []domain.RankingEntry     `json:"ranking,omitempty"`
}

// Snapshot projects the current round state.
func (c *Controller) Snapshot() RoundView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() RoundView {
	view := RoundView{
		Phase:         c.phase,
		QuestionIndex: c.questionIndex,
		TimeRemaining: c.remaining,
		MaxTime:       c.maxTime,
		ShowAnswer:    c.showAnswer,
		BuzzerCount:   c.roster.Count(),
		Submissions:   c.agg.Submissions(),
		Tallies:       c.agg.Tallies(),
		Completion:    c.agg.CompletionCount(),
		BuzzState:     c.arbiter.State().String(),
		Excluded:      c.arbiter.Excluded(),
		Ranking:       c.ranking,
	}
	if c.game != nil {
		view.GameID = c.game.ID
		view.GameName = c.game.Name
		view.TotalQuestions = c.game.TotalQuestions
	}
	if c.question != nil {
		q := *c.question
		view.Question = &q
	}
	if c.maxTime > 0 {
		view.TimePercent = c.remaining * 100 / c.maxTime
	} else {
		view.TimePercent = 100
	}
	view.Shares = make([]float64, len(view.Tallies))
	if view.Completion > 0 {
		for i, tally := range view.Tallies {
			view.Shares[i] = float64(tally) / float64(view.Completion)
		}
	}
	view.AllAnswered = view.BuzzerCount > 0 && view.Completion >= view.BuzzerCount
	if claim, ok := c.arbiter.HeldClaim(); ok {
		held := claim
		view.HeldClaim = &held
	}
	return view
}

// Subscribe returns a channel fed with view snapshots after every mutation,
// starting with the current one. The caller must invoke cancel to avoid
// leaking the subscription.
func (c *Controller) Subscribe() (<-chan RoundView, func()) {
	ch := make(chan RoundView, 8)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	initial := c.snapshotLocked()
	c.mu.Unlock()

	ch <- initial

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// notify fans the current snapshot out to all subscribers. Slow consumers
// lose their oldest pending snapshot rather than blocking the session.
func (c *Controller) notify() {
	c.mu.RLock()
	view := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- view:
			default:
			}
		}
	}
	c.mu.RUnlock()
}
