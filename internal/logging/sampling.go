package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore gives each configured level its own sampler over core.
// Levels without a budget, and Error and above, always pass through.
// Invalid entries are skipped; Validate reports them.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	levels, budgets, _ := cfg.sampledLevels()
	if len(levels) == 0 {
		return core
	}

	sampled := make(map[zapcore.Level]bool, len(levels))
	cores := make([]zapcore.Core, 0, len(levels)+1)
	for _, lvl := range levels {
		sampled[lvl] = true
		cores = append(cores, zapcore.NewSamplerWithOptions(
			&levelFilterCore{Core: core, match: exactly(lvl)},
			cfg.Tick.Duration(),
			budgets[lvl].Initial,
			budgets[lvl].Thereafter,
		))
	}
	cores = append(cores, &levelFilterCore{
		Core:  core,
		match: func(l zapcore.Level) bool { return !sampled[l] },
	})
	return zapcore.NewTee(cores...)
}

func exactly(lvl zapcore.Level) func(zapcore.Level) bool {
	return func(l zapcore.Level) bool { return l == lvl }
}

func atLeast(lvl zapcore.Level) func(zapcore.Level) bool {
	return func(l zapcore.Level) bool { return l >= lvl }
}

// levelFilterCore passes through only the levels match accepts.
type levelFilterCore struct {
	zapcore.Core
	match func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.match(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), match: c.match}
}
