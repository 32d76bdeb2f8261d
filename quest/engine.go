// Package quest is the progression engine: it owns every quest and puzzle
// status change and the optimistic write path that commits them.
package quest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/identity"
	"github.com/kasuganosora/questline/metrics"
	"github.com/kasuganosora/questline/model"
	"github.com/kasuganosora/questline/notify"
	"go.uber.org/zap"
)

// Catalog is the puzzle lookup the engine reads.
type Catalog interface {
	Get(ctx context.Context, name string) (*model.Puzzle, error)
	Index(ctx context.Context, names []string) (map[string]*model.Puzzle, error)
}

// Directory resolves assignee names.
type Directory interface {
	ResolveAssignee(ctx context.Context, name string) (identity.Assignee, error)
}

// Publisher is told about every committed transition.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event)
}

// Auditor records attempts.
type Auditor interface {
	Record(ctx context.Context, action, quest, puzzle string, err error, detail interface{})
}

// Deps wires an Engine. Publisher and Auditor may be nil.
type Deps struct {
	Store      Store
	Catalog    Catalog
	Directory  Directory
	Publisher  Publisher
	Auditor    Auditor
	Logger     *zap.Logger
	CodeLength int
	Now        func() time.Time
}

// Engine applies quest transitions. Every write is an optimistic
// read-modify-write of a single quest; the audit trail and notifications
// follow a successful commit.
type Engine struct {
	store   Store
	catalog Catalog
	dir     Directory
	pub     Publisher
	audit   Auditor
	logger  *zap.Logger
	codeLen int
	now     func() time.Time
}

// NewEngine builds an Engine from d. Logger, Now and CodeLength fall back to
// defaults when unset.
func NewEngine(d Deps) *Engine {
	e := &Engine{
		store:   d.Store,
		catalog: d.Catalog,
		dir:     d.Directory,
		pub:     d.Publisher,
		audit:   d.Auditor,
		logger:  d.Logger,
		codeLen: d.CodeLength,
		now:     d.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.codeLen <= 0 {
		e.codeLen = defaultCodeLength
	}
	return e
}

// errNoChange aborts a transition without writing anything.
var errNoChange = errors.New("no change")

type transitionFn func(q *model.Quest, now time.Time) error

// SolveResult is returned by a successful solve.
type SolveResult struct {
	Quest          *model.Quest `json:"-"`
	Solution       string       `json:"solution"`
	NextPuzzle     string       `json:"next_puzzle,omitempty"`
	QuestCompleted bool         `json:"quest_completed"`
	// Confirmation is the configured reply for a text-message solve.
	Confirmation string `json:"confirmation,omitempty"`
}

// Get loads a quest by name.
func (e *Engine) Get(ctx context.Context, name string) (*model.Quest, error) {
	return e.store.Get(ctx, name)
}

// List returns every quest in creation order.
func (e *Engine) List(ctx context.Context) ([]model.Quest, error) {
	return e.store.List(ctx)
}

// ListByAssignees returns the quests in status owned by any of names.
func (e *Engine) ListByAssignees(ctx context.Context, names []string, status model.QuestStatus) ([]model.Quest, error) {
	return e.store.ListByAssignees(ctx, names, status)
}

// Start promotes the first puzzle of a not-started quest.
func (e *Engine) Start(ctx context.Context, name string) (*model.Quest, error) {
	q, err := e.mutate(ctx, name, nil, func(q *model.Quest, now time.Time) error {
		return start(q, now)
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, q, notify.KindStarted, q.Puzzles[0].PuzzleName)
	return q, nil
}

// Activate unlocks the current puzzle with its activation code. A decoded QR
// payload is passed in exactly as a typed code would be.
func (e *Engine) Activate(ctx context.Context, questName, puzzle, code string) (q *model.Quest, err error) {
	defer func() { e.attempt(ctx, audit.ActionActivate, questName, puzzle, err, nil) }()

	q, err = e.mutate(ctx, questName, nil, func(q *model.Quest, now time.Time) error {
		i, err := entry(q, puzzle)
		if err != nil {
			return err
		}
		return activate(q, i, code, now)
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, q, notify.KindActivated, puzzle)
	return q, nil
}

// Solve checks guess against the puzzle's keywords and, when accepted,
// completes the puzzle and moves the quest on.
func (e *Engine) Solve(ctx context.Context, questName, puzzle, guess string) (res *SolveResult, err error) {
	defer func() {
		e.attempt(ctx, audit.ActionSolve, questName, puzzle, err, map[string]string{"guess": guess})
	}()

	if strings.TrimSpace(guess) == "" {
		return nil, apperr.InvalidRequest("no guess supplied")
	}
	p, err := e.catalog.Get(ctx, puzzle)
	if err != nil {
		return nil, err
	}
	res = &SolveResult{Solution: p.Solution}
	q, err := e.mutate(ctx, questName, nil, func(q *model.Quest, now time.Time) error {
		i, err := entry(q, puzzle)
		if err != nil {
			return err
		}
		if err := requireInProgress(&q.Puzzles[i]); err != nil {
			return err
		}
		if err := CheckSolution(p, guess); err != nil {
			return err
		}
		res.NextPuzzle = complete(q, i, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Quest = q
	res.QuestCompleted = q.Status == model.QuestCompleted
	e.committed(ctx, q, notify.KindSolved, puzzle)
	return res, nil
}

// SolveByText completes the puzzle when body matches its configured text
// response. The configured confirmation is returned with the result.
func (e *Engine) SolveByText(ctx context.Context, questName, puzzle, body string) (res *SolveResult, err error) {
	defer func() {
		e.attempt(ctx, audit.ActionSMS, questName, puzzle, err, map[string]string{"body": body})
	}()

	p, err := e.catalog.Get(ctx, puzzle)
	if err != nil {
		return nil, err
	}
	res = &SolveResult{Solution: p.Solution}
	q, err := e.mutate(ctx, questName, nil, func(q *model.Quest, now time.Time) error {
		i, err := entry(q, puzzle)
		if err != nil {
			return err
		}
		qp := &q.Puzzles[i]
		if err := requireInProgress(qp); err != nil {
			return err
		}
		if qp.TextResponse == "" {
			return apperr.InvalidState("puzzle %q is not expecting a text response", puzzle)
		}
		if !MatchKeywords(qp.TextResponse, body) {
			return apperr.InvalidCredential("message does not match the expected response")
		}
		res.Confirmation = qp.TextConfirmation
		res.NextPuzzle = complete(q, i, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Quest = q
	res.QuestCompleted = q.Status == model.QuestCompleted
	e.committed(ctx, q, notify.KindSolved, puzzle)
	return res, nil
}

// RequestHint reveals the next hint of an in-progress puzzle. When every hint
// is already shown the result has NoMoreHints set and nothing is written.
func (e *Engine) RequestHint(ctx context.Context, questName, puzzle string) (res *HintResult, err error) {
	defer func() { e.attempt(ctx, audit.ActionHint, questName, puzzle, err, nil) }()

	p, err := e.catalog.Get(ctx, puzzle)
	if err != nil {
		return nil, err
	}
	hints := p.SortedHints()
	res = &HintResult{}
	q, err := e.mutate(ctx, questName, map[string]int{puzzle: len(hints)}, func(q *model.Quest, now time.Time) error {
		i, err := entry(q, puzzle)
		if err != nil {
			return err
		}
		qp := &q.Puzzles[i]
		if err := requireInProgress(qp); err != nil {
			return err
		}
		var cursor int
		*res, cursor = dispense(hints, qp.NextHintToDisplay)
		if res.NoMoreHints {
			return errNoChange
		}
		qp.NextHintToDisplay = cursor
		return nil
	})
	if errors.Is(err, errNoChange) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	e.committed(ctx, q, notify.KindHintRequested, puzzle)
	return res, nil
}

// Reset returns the quest to its not-started baseline whatever its state.
func (e *Engine) Reset(ctx context.Context, name string) (*model.Quest, error) {
	q, err := e.mutate(ctx, name, nil, func(q *model.Quest, _ time.Time) error {
		reset(q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.committed(ctx, q, notify.KindReset, "")
	return q, nil
}

// mutate runs fn against a copy of the stored quest and writes the result if
// nobody else wrote in between. A lost race is never retried: fn is re-run
// against the fresh copy only to tell the caller why it lost.
func (e *Engine) mutate(ctx context.Context, name string, hintCounts map[string]int, fn transitionFn) (*model.Quest, error) {
	return e.write(ctx, name, hintCounts, true, fn)
}

func (e *Engine) write(ctx context.Context, name string, hintCounts map[string]int, keepCodes bool, fn transitionFn) (*model.Quest, error) {
	now := e.now()
	cur, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	next, err := e.apply(cur, now, hintCounts, keepCodes, fn)
	if err != nil {
		return nil, err
	}
	err = e.store.Save(ctx, next, cur.Version)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, ErrConcurrentUpdate) {
		e.logger.Error("quest write failed", zap.String("quest", name), zap.Error(err))
		return nil, err
	}

	metrics.Conflict()
	fresh, gerr := e.store.Get(ctx, name)
	if gerr != nil {
		return nil, gerr
	}
	if _, ferr := e.apply(fresh, now, hintCounts, keepCodes, fn); ferr != nil {
		return nil, ferr
	}
	return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "quest %q was modified concurrently", name)
}

func (e *Engine) apply(cur *model.Quest, now time.Time, hintCounts map[string]int, keepCodes bool, fn transitionFn) (*model.Quest, error) {
	next := cur.Clone()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	if err := Validate(next, hintCounts); err != nil {
		e.logger.Error("transition broke quest invariants", zap.String("quest", cur.Name), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "refusing to write quest %q", cur.Name)
	}
	if keepCodes && !sameCodes(cur, next) {
		return nil, apperr.New(apperr.KindPersistenceFailure, "transition changed activation codes of quest %q", cur.Name)
	}
	return next, nil
}

func (e *Engine) committed(ctx context.Context, q *model.Quest, kind notify.Kind, puzzle string) {
	e.logger.Info("quest transition",
		zap.String("quest", q.Name),
		zap.String("puzzle", puzzle),
		zap.String("kind", string(kind)),
		zap.Int64("version", q.Version))
	metrics.Transition(string(kind))
	if e.pub == nil {
		return
	}
	ev := notify.Event{
		Quest:       q.Name,
		Assignee:    q.Assignee,
		Puzzle:      puzzle,
		Kind:        kind,
		QuestStatus: q.Status.String(),
		At:          e.now(),
	}
	if i := q.IndexOf(puzzle); i >= 0 {
		p := q.Puzzles[i]
		ev.StartTime, ev.ActivationTime, ev.EndTime = p.StartTime, p.ActivationTime, p.EndTime
	}
	e.pub.Publish(ctx, ev)
}

func (e *Engine) attempt(ctx context.Context, action, questName, puzzle string, err error, detail interface{}) {
	outcome := audit.OutcomeOf(err)
	metrics.Attempt(action, outcome)
	if apperr.KindOf(err) == apperr.KindInvalidCredential {
		e.logger.Debug("wrong answer", zap.String("quest", questName), zap.String("puzzle", puzzle), zap.String("action", action))
	}
	if e.audit != nil {
		e.audit.Record(ctx, action, questName, puzzle, err, detail)
	}
}
