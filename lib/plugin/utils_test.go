package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/snowmerak/plugscan/lib/descriptor"
	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/snowmerak/plugscan/lib/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCatalog struct{}

func (nopCatalog) Add(*descriptor.Descriptor) error { return nil }

func TestSubmit_TagSpaceExhausted(t *testing.T) {
	spawned := false
	l, err := NewLoader(nopCatalog{}, &LoaderOptions{Spawn: func(ctx context.Context, session string) (*process.Process, error) {
		spawned = true
		return nil, assert.AnError
	}})
	require.NoError(t, err)

	l.nextTag = multiplexer.MaxTag + 1
	err = l.Submit(context.Background(), "/a.so", 1, time.Time{})
	assert.ErrorIs(t, err, ErrTagSpaceExhausted)
	assert.False(t, spawned, "no side effects once tags run out")
}

func TestZeroLoader(t *testing.T) {
	var l Loader
	assert.ErrorIs(t, l.Submit(context.Background(), "/a.so", 1, time.Time{}), errNotInitialized)
	_, err := l.Teardown(context.Background())
	assert.ErrorIs(t, err, errNotInitialized)
}

func TestResolve_RetiresOlderTags(t *testing.T) {
	l, err := NewLoader(nopCatalog{}, &LoaderOptions{Spawn: func(context.Context, string) (*process.Process, error) {
		return nil, assert.AnError
	}})
	require.NoError(t, err)
	for tag := uint32(3); tag < 7; tag++ {
		l.pending = append(l.pending, &PendingJob{Tag: tag, Path: "/p.so"})
	}

	require.NoError(t, l.resolve(5, nil))
	require.Len(t, l.pending, 1)
	assert.Equal(t, uint32(6), l.pending[0].Tag)
	assert.Equal(t, Stats{Placeholders: 1, Superseded: 2}, l.stats)

	err = l.resolve(5, nil)
	assert.ErrorIs(t, err, ErrProtocolViolation, "a tag is never resolved twice")
	err = l.resolve(9, nil)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Len(t, l.pending, 1, "failed resolution retires nothing")
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateUninitialized, "uninitialized"},
		{StateWorkerNotStarted, "worker-not-started"},
		{StateWorkerRunning, "worker-running"},
		{StateShuttingDown, "shutting-down"},
		{StateTerminated, "terminated"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}
