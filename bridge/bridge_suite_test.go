package bridge

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

const (
	// deliveryTimeout bounds how long a test waits for a chunk to reach the listener
	deliveryTimeout = 2 * time.Second

	// quietPeriod is how long a test waits to make sure nothing else arrives
	quietPeriod = 150 * time.Millisecond
)

// recordingListener forwards every delivery to a channel. An optional hook
// runs first and can fail or panic.
type recordingListener struct {
	received chan *SerialData
	hook     func(*SerialData) error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{received: make(chan *SerialData, 64)}
}

func (l *recordingListener) OnDataReceived(data *SerialData) error {
	if l.hook != nil {
		if err := l.hook(data); err != nil {
			return err
		}
	}
	l.received <- data
	return nil
}

// fakeRuntime tracks attach/detach calls.
type fakeRuntime struct {
	attached atomic.Bool
	attaches atomic.Int32
	detaches atomic.Int32
	during   atomic.Bool // listener observed an attached thread
}

func (r *fakeRuntime) Attached() bool { return r.attached.Load() }

func (r *fakeRuntime) Attach() error {
	r.attaches.Add(1)
	r.attached.Store(true)
	return nil
}

func (r *fakeRuntime) Detach() error {
	r.detaches.Add(1)
	r.attached.Store(false)
	return nil
}

// BridgeSuite starts a packet-mode bridge on a temporary symlink for every
// test and stops it afterwards.
//
// The listener is kept in a suite field: the bridge only holds a weak
// reference, so a listener living on the stack of a test could be collected
// mid-test.
type BridgeSuite struct {
	suite.Suite

	opts     Options
	bridge   *Bridge
	listener *recordingListener
	link     string
}

func (s *BridgeSuite) SetupTest() {
	s.link = filepath.Join(s.T().TempDir(), "serialpipe")
	s.opts = Options{
		SymlinkPath: s.link,
		PacketMode:  true,
		Raw:         true,
		Baudrate:    9600,
	}
	s.listener = newRecordingListener()
}

func (s *BridgeSuite) TearDownTest() {
	if s.bridge != nil {
		s.NoError(s.bridge.Stop())
		s.bridge = nil
	}
	runtime.KeepAlive(s.listener)
}

// startBridge builds the bridge from s.opts, registers s.listener and starts it.
func (s *BridgeSuite) startBridge() *Bridge {
	s.bridge = New(&s.opts)
	SetListener(s.bridge, s.listener)
	s.Require().NoError(s.bridge.Start(context.Background()))
	return s.bridge
}

// openSlave opens the published symlink the way an external client would.
func (s *BridgeSuite) openSlave() *os.File {
	f, err := os.OpenFile(s.link, os.O_RDWR|unix.O_NOCTTY, 0)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = f.Close() })
	return f
}

// awaitPayload returns the next delivery that carries bytes, skipping
// control-only packets.
func (s *BridgeSuite) awaitPayload() *SerialData {
	deadline := time.After(deliveryTimeout)
	for {
		select {
		case data := <-s.listener.received:
			if data.HasPayload() {
				return data
			}
		case <-deadline:
			s.FailNow("timeout waiting for listener delivery")
			return nil
		}
	}
}

// assertNoMorePayload fails if another payload arrives within quietPeriod.
func (s *BridgeSuite) assertNoMorePayload() {
	deadline := time.After(quietPeriod)
	for {
		select {
		case data := <-s.listener.received:
			if data.HasPayload() {
				s.Failf("unexpected delivery", "got %q", data.Data)
				return
			}
		case <-deadline:
			return
		}
	}
}

// readSlave reads exactly n bytes from f or fails after deliveryTimeout.
func (s *BridgeSuite) readSlave(f *os.File, n int) []byte {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, n)
		got := 0
		for got < n {
			m, err := f.Read(buf[got:])
			if err != nil {
				done <- result{buf[:got], err}
				return
			}
			got += m
		}
		done <- result{buf, nil}
	}()

	select {
	case r := <-done:
		s.Require().NoError(r.err)
		return r.data
	case <-time.After(deliveryTimeout):
		s.FailNow("timeout reading from slave")
		return nil
	}
}
