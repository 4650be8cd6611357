package groutine

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_LabelsGoroutine(t *testing.T) {
	type result struct {
		name  string
		label string
		gid   uint64
	}
	done := make(chan result, 1)

	Go(context.Background(), "vspty-test", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		done <- result{name: GetName(ctx), label: label, gid: GetGID()}
	})

	r := <-done
	assert.Equal(t, "vspty-test", r.name)
	assert.Equal(t, "vspty-test", r.label)
	assert.NotZero(t, r.gid)
	assert.NotEqual(t, GetGID(), r.gid, "fn MUST run on a new goroutine")
}

func TestGo_NilContext(t *testing.T) {
	done := make(chan string, 1)
	//nolint:staticcheck
	Go(nil, "nil-parent", func(ctx context.Context) {
		done <- GetName(ctx)
	})
	assert.Equal(t, "nil-parent", <-done)
}

func TestGoLocked_PropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	GoLocked(ctx, "locked", func(ctx context.Context) {
		<-ctx.Done()
		done <- ctx.Err()
	})

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestGetName_Empty(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, GetName(nil))
}
