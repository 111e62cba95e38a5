package bridge

import (
	"context"

	"github.com/wippyai/lua-bridge/value"
)

// Run executes code with args in an isolated bridge that is closed before
// Run returns, whether or not the code fails.
func Run(ctx context.Context, code string, args ...any) ([]value.Value, error) {
	return RunWith(ctx, nil, code, args...)
}

// RunWith is Run with bridge options. When execution fails its error is
// returned; otherwise a failure to close the bridge is.
func RunWith(ctx context.Context, opts []Option, code string, args ...any) (out []value.Value, err error) {
	b, err := Create(ctx, nil, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil && err == nil {
			out, err = nil, closeErr
		}
	}()

	return b.Execute(ctx, code, args...)
}
