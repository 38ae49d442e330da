// Package scheduler runs the settlement loop: every tick each enabled pool is
// advanced independently, so one failing pool never blocks the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"EpochKeeper/internal/epoch"
	"EpochKeeper/internal/ledger"
	"EpochKeeper/internal/metrics"
	"EpochKeeper/internal/model"
	"EpochKeeper/internal/notifier"
	"EpochKeeper/internal/registry"
	"EpochKeeper/internal/solver"
)

// ErrStopped is returned for ticks requested after Stop.
var ErrStopped = errors.New("scheduler: stopped")

// Alerter is told about pool failures that did not already raise a halt alert.
type Alerter interface {
	Failed(ctx context.Context, pool model.Pool, err error)
}

// PoolResult is the outcome of one pool within a tick.
type PoolResult struct {
	Pool       model.Pool
	Settlement model.Settlement
	Err        error
}

// Scheduler manages the cron tasks and the pool list.
type Scheduler struct {
	Cron        *cron.Cron
	Settler     *epoch.Settler
	Source      registry.Source
	Alerts      Alerter
	Metrics     *metrics.Metrics
	MaxParallel int
	TickTimeout time.Duration
	Ctx         context.Context

	mu       sync.RWMutex
	pools    []model.Pool
	lastTick time.Time
	failing  map[string]int
	stopped  bool
	// ticks started by Trigger, which cron does not track
	adhoc sync.WaitGroup
}

// NewScheduler creates a new Scheduler. Jobs run on ctx; cancelling it aborts
// in-flight ledger calls, so Stop should be called first.
func NewScheduler(ctx context.Context, settler *epoch.Settler, source registry.Source, maxParallel int, tickTimeout time.Duration) *Scheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Scheduler{
		Cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		Settler:     settler,
		Source:      source,
		MaxParallel: maxParallel,
		TickTimeout: tickTimeout,
		Ctx:         ctx,
		failing:     make(map[string]int),
	}
}

// RegisterAll registers the settlement tick and the registry refresh.
func (s *Scheduler) RegisterAll(settleCron, registryCron string) error {
	if _, err := s.Cron.AddFunc(settleCron, func() { s.RunTick(s.Ctx) }); err != nil {
		return fmt.Errorf("register settle task: %w", err)
	}
	if _, err := s.Cron.AddFunc(registryCron, func() {
		if err := s.RefreshPools(s.Ctx); err != nil {
			log.Printf("[WARN] registry refresh: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("register registry task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop schedules no new ticks and waits for running ones to finish, including
// those started by Trigger.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	<-s.Cron.Stop().Done()
	s.adhoc.Wait()
	log.Println("[INFO] scheduler stopped")
}

// Trigger runs a tick outside the cron schedule.
func (s *Scheduler) Trigger(ctx context.Context) ([]PoolResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.adhoc.Add(1)
	s.mu.Unlock()
	defer s.adhoc.Done()
	return s.RunTick(ctx), nil
}

// RefreshPools reloads the registry. On error the previous list stays active.
func (s *Scheduler) RefreshPools(ctx context.Context) error {
	pools, err := s.Source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load pools (keeping %d): %w", len(s.Pools()), err)
	}
	s.mu.Lock()
	s.pools = pools
	s.mu.Unlock()
	enabled := registry.Enabled(pools)
	s.Metrics.SetRegistry(len(enabled))
	log.Printf("[INFO] registry loaded: %d pools, %d enabled", len(pools), len(enabled))
	return nil
}

// Pools returns a copy of the current registry.
func (s *Scheduler) Pools() []model.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Pool(nil), s.pools...)
}

// LastTick returns when the last tick started.
func (s *Scheduler) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

func (s *Scheduler) findPool(id string) (model.Pool, bool) {
	for _, p := range s.Pools() {
		if p.ID == id {
			return p, true
		}
	}
	return model.Pool{}, false
}

// RunTick advances every enabled pool once. Results are in registry order.
func (s *Scheduler) RunTick(ctx context.Context) []PoolResult {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()
	s.Metrics.Tick()

	pools := registry.Enabled(s.Pools())
	results := make([]PoolResult, len(pools))
	var g errgroup.Group
	g.SetLimit(s.MaxParallel)
	for i, pool := range pools {
		i, pool := i, pool
		g.Go(func() error {
			results[i] = s.settleOne(ctx, pool)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Printf("[INFO] tick done: %d pools, %d failed", len(pools), failed)
	return results
}

// settleOne alerts on parent so an expired pool deadline does not drop the alert.
func (s *Scheduler) settleOne(parent context.Context, pool model.Pool) (res PoolResult) {
	res.Pool = pool
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			log.Printf("[ERROR] pool=%s panic during settlement: %v", pool.ID, r)
			s.failed(parent, pool, res.Err)
		}
	}()

	ctx := parent
	if s.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.TickTimeout)
		defer cancel()
	}

	res.Settlement, res.Err = s.Settler.Advance(ctx, pool)
	s.Metrics.Outcome(pool.ID, string(res.Settlement.Action))
	if res.Err == nil {
		s.recovered(pool)
		return res
	}
	s.failed(parent, pool, res.Err)
	return res
}

func (s *Scheduler) recovered(pool model.Pool) {
	s.mu.Lock()
	n := s.failing[pool.ID]
	delete(s.failing, pool.ID)
	s.mu.Unlock()
	if n > 0 {
		log.Printf("[INFO] pool=%s recovered after %d failed ticks", pool.ID, n)
	}
}

// failed logs and counts a pool failure. Only the first of a run of transient
// failures is alerted; halts are alerted by the settler itself.
func (s *Scheduler) failed(ctx context.Context, pool model.Pool, err error) {
	reason := failureReason(err)
	s.Metrics.Failure(pool.ID, reason)

	switch reason {
	case "halted":
		log.Printf("[INFO] pool=%s skipped: %v", pool.ID, err)
		return
	case "stale", "governance":
		return
	}

	s.mu.Lock()
	s.failing[pool.ID]++
	n := s.failing[pool.ID]
	s.mu.Unlock()
	log.Printf("[ERROR] pool=%s tick failed (%s, %d in a row): %v", pool.ID, reason, n, err)
	if n == 1 && s.Alerts != nil {
		s.Alerts.Failed(ctx, pool, err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, epoch.ErrPoolHalted):
		return "halted"
	case errors.Is(err, epoch.ErrStaleSolution):
		return "stale"
	case errors.Is(err, epoch.ErrGovernanceRequired):
		return "governance"
	case errors.Is(err, solver.ErrInvalidState), errors.Is(err, solver.ErrWeightGap):
		return "config"
	case errors.Is(err, solver.ErrRelaxation):
		return "solver"
	case errors.Is(err, ledger.ErrTransactionFailed):
		return "tx_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.HasPrefix(err.Error(), "panic:"):
		return "panic"
	default:
		return "ledger"
	}
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	// commands in groups arrive as /cmd@botname
	cmd, _, _ := strings.Cut(fields[0], "@")
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/status":
		return notifier.FormatStatus(s.Pools(), s.Settler.Halts.List(), s.LastTick())
	case "/pools":
		return notifier.FormatPools(s.Pools())
	case "/preview":
		pool, reply := s.poolArg(cmd, arg)
		if reply != "" {
			return reply
		}
		p, err := s.Settler.Preview(ctx, pool)
		if err != nil {
			return fmt.Sprintf("preview %s failed: %s", pool.ID, html.EscapeString(err.Error()))
		}
		return notifier.FormatPreview(p)
	case "/resume":
		pool, reply := s.poolArg(cmd, arg)
		if reply != "" {
			return reply
		}
		ok, err := s.Settler.Resume(pool.ID)
		if err != nil {
			return fmt.Sprintf("resume %s failed: %v", pool.ID, err)
		}
		if !ok {
			return fmt.Sprintf("%s is not halted.", pool.ID)
		}
		return fmt.Sprintf("▶️ %s resumed, it will settle on the next tick.", pool.ID)
	case "/history":
		pool, reply := s.poolArg(cmd, arg)
		if reply != "" {
			return reply
		}
		attempts, err := s.Settler.Recorder.RecentAttempts(pool.ID, 10)
		if err != nil {
			return fmt.Sprintf("history %s failed: %v", pool.ID, err)
		}
		return notifier.FormatHistory(pool.ID, attempts)
	case "/settle":
		results, err := s.Trigger(ctx)
		if err != nil {
			return "Shutting down, no tick started."
		}
		return summarize(results)
	default:
		return helpText
	}
}

const helpText = "Commands:\n• /status\n• /pools\n• /preview &lt;pool&gt;\n• /resume &lt;pool&gt;\n• /history &lt;pool&gt;\n• /settle"

func (s *Scheduler) poolArg(cmd, id string) (model.Pool, string) {
	if id == "" {
		return model.Pool{}, fmt.Sprintf("usage: %s &lt;pool&gt;", cmd)
	}
	pool, ok := s.findPool(id)
	if !ok {
		return model.Pool{}, fmt.Sprintf("unknown pool %s", html.EscapeString(id))
	}
	return pool, ""
}

func summarize(results []PoolResult) string {
	if len(results) == 0 {
		return "No enabled pools."
	}
	counts := make(map[string]int)
	var failures []string
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, fmt.Sprintf("  %s: %s", html.EscapeString(r.Pool.ID), html.EscapeString(r.Err.Error())))
			continue
		}
		counts[string(r.Settlement.Action)]++
	}
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("⚙️ <b>Tick</b>: %d pools\n", len(results)))
	for _, a := range actions {
		b.WriteString(fmt.Sprintf("  %s: %d\n", a, counts[a]))
	}
	if len(failures) > 0 {
		b.WriteString(fmt.Sprintf("\nFailed (%d):\n%s\n", len(failures), strings.Join(failures, "\n")))
	}
	return b.String()
}
