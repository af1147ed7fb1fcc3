package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ahmed-tasaly/ghermez/internal/store"
	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

// AfterDownloadShutdown is the only after-download action the
// scheduler performs itself; anything else is handed to the process
// exit path.
const AfterDownloadShutdown = "shutdown"

// Engine is the subset of engine calls the scheduler issues.
type Engine interface {
	Pause(ctx context.Context, gid string) error
	Unpause(ctx context.Context, gid string) error
	SetSpeedLimit(ctx context.Context, gid, limit string) error
	Shutdown(ctx context.Context) error
}

// SessionRecorder mirrors armed queue actions into the per-run
// session store so the exit path can consult them.
type SessionRecorder interface {
	AddQueue(category string) error
	UpdateQueue(category string, shutdown *string) error
}

// Scheduler re-evaluates every category on a fixed tick and pauses or
// unpauses member downloads to keep them inside their category's time
// window. It is level-triggered: a decision that fails over RPC is
// simply retried on the next tick.
type Scheduler struct {
	store   *store.Store
	engine  Engine
	log     logger.Logger
	session SessionRecorder
	tick    time.Duration
	now     func() time.Time

	mu     sync.Mutex
	states map[string]State
	fired  map[string]bool
}

// New creates a scheduler ticking at the given interval.
func New(st *store.Store, eng Engine, log logger.Logger, tick time.Duration) *Scheduler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Scheduler{
		store:  st,
		engine: eng,
		log:    log,
		tick:   tick,
		now:    time.Now,
		states: make(map[string]State),
		fired:  make(map[string]bool),
	}
}

// SetSession makes the scheduler record armed queues in the session
// store. Must be called before Run.
func (s *Scheduler) SetSession(rec SessionRecorder) {
	s.session = rec
}

// Run evaluates categories until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Evaluate runs one scheduling pass over all categories. A failure in
// one category is logged and does not stop the others.
func (s *Scheduler) Evaluate(ctx context.Context) {
	names, err := s.store.Categories()
	if err != nil {
		s.log.Error("scheduler: list categories: %v", err)
		return
	}
	for _, name := range names {
		s.evaluateCategory(ctx, name)
	}
}

func (s *Scheduler) evaluateCategory(ctx context.Context, name string) {
	cat, ok, err := s.store.Category(name)
	if err != nil {
		s.log.Error("scheduler: load category %s: %v", name, err)
		return
	}
	if !ok {
		return
	}

	window := Window{
		StartEnabled: cat.StartTimeEnable,
		Start:        cat.StartTime,
		EndEnabled:   cat.EndTimeEnable,
		End:          cat.EndTime,
	}
	if window.Constrained() {
		state, err := window.Evaluate(s.now())
		if err != nil {
			s.log.Error("scheduler: window for %s: %v", name, err)
			return
		}
		changed := s.noteTransition(name, state)
		switch state {
		case StateActive:
			s.startMembers(ctx, cat)
		case StateInactive, StateExpired:
			if changed && state == StateInactive && window.StartEnabled {
				if next, err := window.NextActivation(s.now()); err == nil {
					s.log.Info("scheduler: category %s starts at %s",
						name, next.Format("2006/01/02 15:04"))
				}
			}
			s.stopMembers(ctx, cat)
		}
	}

	s.checkAfterDownload(ctx, cat)
}

// noteTransition records the category's window state and reports
// whether it changed since the last pass.
func (s *Scheduler) noteTransition(name string, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.states[name]
	s.states[name] = state
	if !seen || prev != state {
		s.log.Info("scheduler: category %s is now %s", name, state)
		return true
	}
	return false
}

// startMembers unpauses members that are not running and applies the
// category speed limit to the rest. Iteration follows list order, or
// reverse when the category's reverse flag is set.
func (s *Scheduler) startMembers(ctx context.Context, cat store.Category) {
	for _, gid := range memberOrder(cat) {
		d, ok, err := s.store.Download(gid)
		if err != nil {
			s.log.Error("scheduler: load download %s: %v", gid, err)
			continue
		}
		if !ok {
			continue
		}
		switch d.Status {
		case "paused", "stopped", "scheduled":
			if err := s.engine.Unpause(ctx, gid); err != nil {
				s.log.Warning("scheduler: unpause %s: %v", gid, err)
				continue
			}
		case "downloading", "waiting":
			// already running
		default:
			continue
		}
		if cat.LimitEnable {
			if err := s.engine.SetSpeedLimit(ctx, gid, cat.LimitValue); err != nil {
				s.log.Warning("scheduler: speed limit for %s: %v", gid, err)
			}
		}
	}
}

func (s *Scheduler) stopMembers(ctx context.Context, cat store.Category) {
	for _, gid := range memberOrder(cat) {
		d, ok, err := s.store.Download(gid)
		if err != nil {
			s.log.Error("scheduler: load download %s: %v", gid, err)
			continue
		}
		if !ok {
			continue
		}
		if d.Status != "downloading" && d.Status != "waiting" {
			continue
		}
		if err := s.engine.Pause(ctx, gid); err != nil {
			s.log.Warning("scheduler: pause %s: %v", gid, err)
		}
	}
}

// checkAfterDownload fires the category's configured action once every
// member has reached a terminal status.
func (s *Scheduler) checkAfterDownload(ctx context.Context, cat store.Category) {
	if cat.AfterDownload != AfterDownloadShutdown || len(cat.GIDList) == 0 {
		return
	}
	s.mu.Lock()
	done := s.fired[cat.Name]
	s.mu.Unlock()
	if done {
		return
	}

	if s.session != nil {
		if err := s.session.AddQueue(cat.Name); err != nil {
			s.log.Warning("scheduler: session queue %s: %v", cat.Name, err)
		} else {
			marker := AfterDownloadShutdown
			if err := s.session.UpdateQueue(cat.Name, &marker); err != nil {
				s.log.Warning("scheduler: session queue %s: %v", cat.Name, err)
			}
		}
	}

	active, err := s.store.ActiveDownloads(cat.Name)
	if err != nil {
		s.log.Error("scheduler: active downloads for %s: %v", cat.Name, err)
		return
	}
	if len(active) > 0 {
		return
	}

	// The queue must have actually run: members parked at "stopped"
	// since startup do not satisfy the action.
	finished := false
	for _, gid := range cat.GIDList {
		d, ok, err := s.store.Download(gid)
		if err != nil {
			s.log.Error("scheduler: load download %s: %v", gid, err)
			return
		}
		if ok && d.Status == "complete" {
			finished = true
			break
		}
	}
	if !finished {
		return
	}

	if err := s.engine.Shutdown(ctx); err != nil {
		s.log.Warning("scheduler: after-download shutdown for %s: %v", cat.Name, err)
		return
	}
	s.mu.Lock()
	s.fired[cat.Name] = true
	s.mu.Unlock()

	// Disarm so the action cannot fire again next session.
	off := "no"
	if err := s.store.UpdateCategories([]store.CategoryPatch{{
		Name:          cat.Name,
		AfterDownload: &off,
	}}); err != nil {
		s.log.Error("scheduler: disarm after-download for %s: %v", cat.Name, err)
	}
}

func memberOrder(cat store.Category) []string {
	if !cat.Reverse {
		return cat.GIDList
	}
	out := make([]string, len(cat.GIDList))
	for i, gid := range cat.GIDList {
		out[len(out)-1-i] = gid
	}
	return out
}
