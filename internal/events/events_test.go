package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/srg/vspty/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		expected  string
	}{
		{name: "rts/dts", eventType: EventRtsDts, expected: "{\"eventType\": \"rtsDts\"}\n"},
		{name: "custom baud", eventType: EventCustomBaud, expected: "{\"eventType\": \"customBaud\"}\n"},
		{name: "escapes quotes", eventType: `a"b`, expected: "{\"eventType\": \"a\\\"b\"}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.eventType)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
			testutils.NewJSONAsserter(t).Assert(string(got), testutils.MustJSON(Event{EventType: tt.eventType}))
		})
	}
}

func TestNotifier_DisabledTouchesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventPipe")
	n := NewNotifier(&NotifierOptions{Path: path, Enabled: false})

	assert.NoError(t, n.Notify(EventRtsDts))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNotifier_DefaultPath(t *testing.T) {
	n := NewNotifier(nil)
	assert.Equal(t, DefaultFIFOPath, n.Path())
	assert.False(t, n.Enabled())
}

func TestNotifier_NoReaderIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventPipe")
	require.NoError(t, EnsureFIFO(path, 0))

	n := NewNotifier(&NotifierOptions{Path: path, Enabled: true})
	err := n.Notify(EventRtsDts)
	assert.ErrorIs(t, err, ErrNotify)
	assert.ErrorIs(t, err, ErrNoReader)
}

func TestNotifier_MissingFIFO(t *testing.T) {
	n := NewNotifier(&NotifierOptions{Path: filepath.Join(t.TempDir(), "absent"), Enabled: true})
	err := n.Notify(EventCustomBaud)
	assert.ErrorIs(t, err, ErrNotify)
	assert.NotErrorIs(t, err, ErrNoReader)
}

func TestNotifier_WritesEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventPipe")
	require.NoError(t, EnsureFIFO(path, 0))

	reader, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(reader) })

	n := NewNotifier(&NotifierOptions{Path: path, Enabled: true})
	require.NoError(t, n.Notify(EventRtsDts))

	buf := make([]byte, 128)
	got, err := unix.Read(reader, buf)
	require.NoError(t, err)
	assert.Equal(t, "{\"eventType\": \"rtsDts\"}\n", string(buf[:got]))
}

func TestEnsureFIFO_RejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventPipe")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	assert.Error(t, EnsureFIFO(path, 0))
}

func TestListen_DeliversEventsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventPipe")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 8)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Listen(ctx, &ListenOptions{Path: path}, func(ev Event) {
			received <- ev
		})
	}()

	n := NewNotifier(&NotifierOptions{Path: path, Enabled: true})
	require.Eventually(t, func() bool {
		return n.Notify(EventRtsDts) == nil
	}, 2*time.Second, 10*time.Millisecond, "listener MUST attach to the fifo")

	// A malformed line in between must be skipped.
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, n.Notify(EventCustomBaud))

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev.EventType)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for events, got %v", got)
		}
	}
	// The first successful Notify may have been preceded by retries that
	// were dropped, but never duplicated.
	assert.Equal(t, []string{EventRtsDts, EventCustomBaud}, got)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancellation")
	}
}

func TestListen_RequiresHandler(t *testing.T) {
	err := Listen(context.Background(), &ListenOptions{Path: filepath.Join(t.TempDir(), "p")}, nil)
	assert.Error(t, err)
}
