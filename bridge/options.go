package bridge

import (
	"time"

	"go.uber.org/zap"

	luabridge "github.com/wippyai/lua-bridge"
	"github.com/wippyai/lua-bridge/engine"
)

// Option configures a Bridge.
type Option func(*settings)

type settings struct {
	engine luabridge.Engine
	opts   luabridge.Options
}

func newSettings(opts []Option) settings {
	s := settings{opts: luabridge.DefaultOptions()}
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	if s.engine == nil {
		s.engine = engine.NewLuaEngine()
	}
	return s
}

// WithEngine replaces the gopher-lua engine, mainly for tests.
func WithEngine(e luabridge.Engine) Option {
	return func(s *settings) {
		s.engine = e
	}
}

// WithTimeout sets the execution limit applied to every call into the
// engine.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.opts.Timeout = d
	}
}

func WithStandardLibs(enabled bool) Option {
	return func(s *settings) {
		s.opts.StandardLibs = enabled
	}
}

func WithHostInjection(enabled bool) Option {
	return func(s *settings) {
		s.opts.HostInjection = enabled
	}
}

// WithWASM makes require("wasm") available to scripts.
func WithWASM(enabled bool) Option {
	return func(s *settings) {
		s.opts.EnableWASM = enabled
	}
}

// WithLogger sets the logger used by the bridge and its engine handles.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		s.opts.Logger = l
	}
}
