package sim

import (
	"errors"
	"time"
)

// ErrMissingCore indicates NewEngine was invoked without an engine core.
var ErrMissingCore = errors.New("sim: engine core is nil")

// EngineOption configures NewEngine behaviour.
//
// Options are applied in order; later options override earlier ones.
type EngineOption interface {
	apply(*engineConfig)
}

type engineOptionFunc func(*engineConfig)

func (f engineOptionFunc) apply(cfg *engineConfig) {
	if f != nil {
		f(cfg)
	}
}

// JournalHooks exposes callbacks triggered when the engine records a
// keyframe. Callers use them to emit telemetry without peeking into engine
// internals.
type JournalHooks struct {
	// OnRecord is invoked after the engine persists a keyframe. The callback
	// receives the recorded frame and the journal response.
	OnRecord func(Keyframe, KeyframeRecordResult)
}

type engineConfig struct {
	loopConfig   LoopConfig
	loopHooks    LoopHooks
	journalHooks JournalHooks
}

// WithLoopConfig overrides the default command queue and tick loop sizing
// used by the engine.
func WithLoopConfig(config LoopConfig) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.loopConfig = config
	})
}

// WithLoopHooks supplies custom loop callbacks.
func WithLoopHooks(hooks LoopHooks) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.loopHooks = hooks
	})
}

// WithJournalHooks registers callbacks to observe journal activity produced
// by the engine.
func WithJournalHooks(hooks JournalHooks) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.journalHooks = hooks
	})
}

// NewEngine wraps the provided core with prepare-step sequencing and the
// command loop described by the supplied options.
func NewEngine(core EngineCore, opts ...EngineOption) (*Loop, error) {
	if core == nil {
		return nil, ErrMissingCore
	}

	cfg := engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}

	hooks := cfg.loopHooks
	if preparer, ok := core.(interface {
		PrepareStep(uint64, time.Time, float64)
	}); ok {
		userPrepare := hooks.Prepare
		hooks.Prepare = func(ctx LoopTickContext) {
			preparer.PrepareStep(ctx.Tick, ctx.Now, ctx.Delta)
			if userPrepare != nil {
				userPrepare(ctx)
			}
		}
	}

	if cfg.journalHooks.OnRecord != nil {
		core = &journalHookedCore{EngineCore: core, hooks: cfg.journalHooks}
	}

	loop := NewLoop(core, cfg.loopConfig, hooks)
	if loop == nil {
		return nil, ErrMissingCore
	}
	return loop, nil
}

type journalHookedCore struct {
	EngineCore
	hooks JournalHooks
}

func (c *journalHookedCore) RecordKeyframe() (Keyframe, KeyframeRecordResult) {
	if c == nil || c.EngineCore == nil {
		return Keyframe{}, KeyframeRecordResult{}
	}
	frame, result := c.EngineCore.RecordKeyframe()
	if c.hooks.OnRecord != nil {
		c.hooks.OnRecord(frame, result)
	}
	return frame, result
}
