package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Slot is a named job that runs once a day at its schedule.
type Slot struct {
	Name     string
	Schedule DailySchedule
	Run      JobFunc
}

// TriggerOption configures a WarmupTrigger
type TriggerOption func(*WarmupTrigger)

// WithCheckInterval sets how often the clock is checked
func WithCheckInterval(d time.Duration) TriggerOption {
	return func(t *WarmupTrigger) {
		if d > 0 {
			t.checkInterval = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) TriggerOption {
	return func(t *WarmupTrigger) {
		t.now = now
	}
}

// WithRetries sets how often a failed slot job is retried
func WithRetries(n int) TriggerOption {
	return func(t *WarmupTrigger) {
		t.retries = n
	}
}

// WarmupTrigger submits each slot's job to the scheduler once per day, on
// the first check at or after the slot's time. Slots whose time has already
// passed when the trigger starts wait for the next day.
type WarmupTrigger struct {
	scheduler     *Scheduler
	slots         []Slot
	checkInterval time.Duration
	retries       int
	now           func() time.Time
	logger        *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   map[string]string // slot name -> date it last fired
}

// NewWarmupTrigger creates a trigger for slots
func NewWarmupTrigger(scheduler *Scheduler, slots []Slot, logger *zap.Logger, opts ...TriggerOption) *WarmupTrigger {
	t := &WarmupTrigger{
		scheduler:     scheduler,
		slots:         slices.Clone(slots),
		checkInterval: time.Minute,
		now:           time.Now,
		logger:        logger,
		lastRun:       make(map[string]string, len(slots)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins checking the clock
func (t *WarmupTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return nil
	}
	t.isRunning = true

	now := t.now()
	today := now.Format(dateLayout)
	for _, slot := range t.slots {
		if slot.Schedule.Due(now) {
			t.lastRun[slot.Name] = today
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.runLoop(ctx)

	fields := []zap.Field{zap.Duration("check_interval", t.checkInterval)}
	for _, slot := range t.slots {
		fields = append(fields, zap.String(slot.Name, slot.Schedule.String()))
	}
	t.logger.Info("Warm-up trigger started", fields...)
	return nil
}

// Stop stops checking the clock. Jobs already submitted are unaffected.
func (t *WarmupTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.cancel()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Warm-up trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WarmupTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkAndTrigger()
		}
	}
}

// checkAndTrigger submits every slot that is due and has not fired today.
// It returns the names of the slots it submitted.
func (t *WarmupTrigger) checkAndTrigger() []string {
	now := t.now()
	today := now.Format(dateLayout)

	var due []Slot
	t.mu.Lock()
	for _, slot := range t.slots {
		if t.lastRun[slot.Name] == today || !slot.Schedule.Due(now) {
			continue
		}
		t.lastRun[slot.Name] = today
		due = append(due, slot)
	}
	t.mu.Unlock()

	fired := make([]string, 0, len(due))
	for _, slot := range due {
		t.logger.Info("Triggering warm-up slot", zap.String("slot", slot.Name))
		if err := t.submit(slot); err != nil {
			t.logger.Error("Failed to submit warm-up slot",
				zap.String("slot", slot.Name),
				zap.Error(err),
			)
			continue
		}
		fired = append(fired, slot.Name)
	}
	return fired
}

// TriggerNow submits the named slot immediately, regardless of its schedule
// and of whether it already ran today.
func (t *WarmupTrigger) TriggerNow(name string) (*Job, error) {
	for _, slot := range t.slots {
		if slot.Name == name {
			job := NewJob(slot.Name, slot.Run, t.retries)
			if err := t.scheduler.SubmitJob(job); err != nil {
				return nil, err
			}
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, name)
}

// SlotNames returns the configured slot names in order
func (t *WarmupTrigger) SlotNames() []string {
	names := make([]string, len(t.slots))
	for i, slot := range t.slots {
		names[i] = slot.Name
	}
	return names
}

func (t *WarmupTrigger) submit(slot Slot) error {
	return t.scheduler.SubmitJob(NewJob(slot.Name, slot.Run, t.retries))
}
