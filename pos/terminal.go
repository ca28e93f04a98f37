// Package pos implements the card identification and print job workflows of
// a point-of-sale terminal on top of the dal device abstraction.
//
// A Terminal owns the lazily acquired device handle and serialises access to
// it: at most one reader operation and one printer operation run at a time.
// Every reader or printer handle a workflow opens is released before the
// workflow returns.
package pos

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// Config tunes the workflows.
type Config struct {
	// DetectAttempts is the number of detect calls made before giving up.
	DetectAttempts int
	// DetectRetryDelay is the pause between two detect attempts.
	DetectRetryDelay time.Duration
	// PollInterval is the presence polling period of WaitForCard.
	PollInterval time.Duration
	// SettleDelay is waited after a print job was accepted.
	SettleDelay time.Duration

	SkipPlatformCheck bool
	// PlatformKeywords are the package name fragments that mark a POS host.
	PlatformKeywords []string

	// LineWidth is the character width used for alignment padding.
	LineWidth int
	// DotWidth is the width of rasterised text bitmaps.
	DotWidth int
	// FontPath is the TTF/OTF font used to rasterise right-to-left text.
	FontPath string
}

// DefaultConfig returns the terminal defaults.
func DefaultConfig() Config {
	return Config{
		DetectAttempts:   5,
		DetectRetryDelay: time.Second,
		PollInterval:     50 * time.Millisecond,
		SettleDelay:      50 * time.Millisecond,
		LineWidth:        32,
		DotWidth:         384,
		PlatformKeywords: DefaultPlatformKeywords,
	}
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithConfig replaces the default configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(t *Terminal) {
		def := DefaultConfig()
		if cfg.DetectAttempts <= 0 {
			cfg.DetectAttempts = def.DetectAttempts
		}
		if cfg.DetectRetryDelay < 0 {
			cfg.DetectRetryDelay = def.DetectRetryDelay
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.SettleDelay < 0 {
			cfg.SettleDelay = def.SettleDelay
		}
		if cfg.LineWidth <= 0 {
			cfg.LineWidth = def.LineWidth
		}
		if cfg.DotWidth <= 0 {
			cfg.DotWidth = def.DotWidth
		}
		if len(cfg.PlatformKeywords) == 0 {
			cfg.PlatformKeywords = def.PlatformKeywords
		}
		t.cfg = cfg
	}
}

// WithPlatformProber sets the probe used to check the host is a POS device.
func WithPlatformProber(p PlatformProber) Option {
	return func(t *Terminal) {
		t.prober = p
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Terminal) {
		t.logger = l
	}
}

// Terminal runs the card and print workflows against one device.
type Terminal struct {
	cfg    Config
	loader dal.Loader
	prober PlatformProber
	logger zerolog.Logger

	// Single slot semaphores; a channel lets waiters give up on ctx.
	readerSlot  chan struct{}
	printerSlot chan struct{}

	mu           sync.Mutex
	handle       dal.DAL
	printer      dal.Printer
	printerReady bool

	lastCard atomic.Pointer[CardResult]
}

// NewTerminal creates a Terminal. The device handle is acquired from loader
// on first use.
func NewTerminal(loader dal.Loader, opts ...Option) *Terminal {
	t := &Terminal{
		cfg:         DefaultConfig(),
		loader:      loader,
		prober:      NewDpkgProber(""),
		logger:      log.With().Str("component", "pos").Logger(),
		readerSlot:  make(chan struct{}, 1),
		printerSlot: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config returns the effective configuration.
func (t *Terminal) Config() Config {
	return t.cfg
}

// LastCard returns the most recently identified card, or nil.
func (t *Terminal) LastCard() *CardResult {
	return t.lastCard.Load()
}

func (t *Terminal) checkContext(op string) error {
	if t == nil || t.loader == nil {
		return newError(KindContextMissing, op, "Context is null - cannot initialize PAX SDK", nil)
	}
	return nil
}

// device returns the cached DAL handle, acquiring it if needed. Failed
// acquisitions are not cached so the next call retries.
func (t *Terminal) device(ctx context.Context, op string) (dal.DAL, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle != nil {
		return t.handle, nil
	}

	d, err := t.loader.Load(ctx)
	if err != nil {
		msg := "LOAD DAL ERR: " + err.Error()
		if dal.IsNativeLibraryMissing(err) {
			msg = "LOAD DAL ERR: Missing native libraries - " + err.Error()
		}
		t.logger.Error().Err(err).Str("op", op).Msg("failed to load device abstraction layer")
		return nil, newError(KindHandleUnavailable, op, msg, err)
	}
	if d == nil {
		return nil, newError(KindHandleUnavailable, op, "Failed to get DAL instance - DAL is null", nil)
	}

	t.handle = d
	t.logger.Debug().Str("op", op).Msg("device abstraction layer acquired")
	return d, nil
}

// Reset drops the cached device handle so the next operation acquires a
// fresh one.
func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handle = nil
	t.printer = nil
	t.printerReady = false
}

func acquire(ctx context.Context, slot chan struct{}) error {
	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(slot chan struct{}) {
	<-slot
}

// withReader opens the internal reader for the duration of fn and closes it
// on every path.
func (t *Terminal) withReader(ctx context.Context, op string, fn func(dal.Picc) error) error {
	if err := acquire(ctx, t.readerSlot); err != nil {
		return err
	}
	defer release(t.readerSlot)

	d, err := t.device(ctx, op)
	if err != nil {
		return err
	}

	picc, err := d.Picc(dal.PiccInternal)
	if err != nil || picc == nil {
		return newError(KindHandleUnavailable, op, "Failed to get PICC instance", err)
	}

	if err := picc.Open(); err != nil {
		return newError(KindDetectionFailed, op, "Detection error: "+err.Error(), err)
	}
	defer func() {
		if err := picc.Close(); err != nil {
			t.logger.Warn().Err(err).Str("op", op).Msg("failed to close card reader")
		}
	}()

	return fn(picc)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
