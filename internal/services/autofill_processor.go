package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
)

// AutofillProcessorConfig holds configuration for the autofill processor
type AutofillProcessorConfig struct {
	// PollInterval is how often templates are applied (default: 1h)
	PollInterval time.Duration

	// Ahead is how many months after the current one are prepared (default: 1)
	Ahead int
}

// DefaultAutofillProcessorConfig returns sensible defaults
func DefaultAutofillProcessorConfig() AutofillProcessorConfig {
	return AutofillProcessorConfig{
		PollInterval: time.Hour,
		Ahead:        1,
	}
}

// MonthViewer loads a month, applying its templates on the way.
type MonthViewer interface {
	CheckMonth(m core.CalendarMonth) error
	MonthView(ctx context.Context, m core.CalendarMonth) (core.MonthView, error)
}

// AutofillProcessor periodically prepares the current accounting month and
// the months ahead of it so template entries exist before anyone opens them.
type AutofillProcessor struct {
	ledger MonthViewer
	period core.Period
	config AutofillProcessorConfig
	logger *applog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewAutofillProcessor(ledger MonthViewer, period core.Period, config AutofillProcessorConfig, logger *applog.Logger) *AutofillProcessor {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &AutofillProcessor{
		ledger: ledger,
		period: period,
		config: config,
		logger: logger.WithComponent(applog.ComponentTemplate),
		now:    time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *AutofillProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("autofill processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Autofill processor started",
		"poll_interval", p.config.PollInterval,
		"ahead", p.config.Ahead)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *AutofillProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Autofill processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Autofill processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *AutofillProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *AutofillProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.RunOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce prepares the current month and the configured months ahead. It
// returns the number of months loaded successfully.
func (p *AutofillProcessor) RunOnce(ctx context.Context) int {
	current := p.period.Current(p.now())
	prepared := 0
	for i := 0; i <= p.config.Ahead; i++ {
		if ctx.Err() != nil {
			return prepared
		}
		m, err := current.Add(i)
		if err != nil {
			continue
		}
		if err := p.ledger.CheckMonth(m); err != nil {
			p.logger.DebugContext(ctx, "Skipping month outside range",
				applog.FieldYear, m.Year, applog.FieldMonth, m.Month)
			continue
		}
		if _, err := p.ledger.MonthView(ctx, m); err != nil {
			p.logger.ErrorContext(ctx, "Failed to prepare month",
				applog.FieldOperation, applog.OpAutofill,
				applog.FieldYear, m.Year,
				applog.FieldMonth, m.Month,
				applog.FieldError, err.Error())
			continue
		}
		prepared++
	}
	return prepared
}
