//go:build linux && cgo

// Command vspty-preload is an LD_PRELOAD library that overrides ioctl for
// the whole hosting process. Modem-line and custom-baud requests are answered
// with success and reported on the event FIFO; everything else goes to the
// next ioctl in the link chain.
//
//	go build -buildmode=c-shared -o libvspty-preload.so ./cmd/vspty-preload
//	LD_PRELOAD=$PWD/libvspty-preload.so octoprint serve
//
// Configuration comes from the environment: VSPTY_EVENT_FIFO,
// VSPTY_EVENT_EMIT and VSPTY_LOG_LEVEL (default warn, logs go to stderr).
package main

/*
#include <stdint.h>

int vspty_next_ioctl(int fd, unsigned long request, uintptr_t arg, int *errnum);
int vspty_next_available(void);
*/
import "C"

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vspty/internal/events"
	"github.com/srg/vspty/internal/ioctlshim"
	"github.com/srg/vspty/pkg/config"
	"golang.org/x/sys/unix"
)

var shim = sync.OnceValue(func() *ioctlshim.Shim {
	cfg := config.DefaultConfig()
	cfg.LogLevel = logrus.WarnLevel
	envErr := cfg.ApplyEnv(os.LookupEnv)

	logger := cfg.NewLogger()
	if envErr != nil {
		logger.WithError(envErr).Warn("Ignoring invalid vspty environment")
	}

	return ioctlshim.New(&ioctlshim.Options{
		Resolve: nextIoctl,
		Notifier: events.NewNotifier(&events.NotifierOptions{
			Path:    cfg.EventFIFOPath,
			Enabled: cfg.EmitEvents,
			Logger:  logger,
		}),
		Emit:   cfg.EmitEvents,
		Logger: logger,
	})
})

// nextIoctl binds the ioctl that would have been called without the preload.
func nextIoctl() (ioctlshim.RealIoctl, error) {
	if C.vspty_next_available() == 0 {
		return nil, errors.New(`dlsym(RTLD_NEXT, "ioctl") returned NULL`)
	}
	return func(fd int, request uint, arg uintptr) (int, error) {
		var errnum C.int
		rc := C.vspty_next_ioctl(C.int(fd), C.ulong(request), C.uintptr_t(arg), &errnum)
		if rc < 0 {
			return int(rc), unix.Errno(errnum)
		}
		return int(rc), nil
	}, nil
}

//export vsptyIoctl
func vsptyIoctl(fd C.int, request C.ulong, arg C.uintptr_t, errnum *C.int) C.int {
	rc, err := shim().Ioctl(int(fd), uint(request), uintptr(arg))
	if err == nil {
		return C.int(rc)
	}

	var errno unix.Errno
	switch {
	case errors.As(err, &errno):
	case errors.Is(err, ioctlshim.ErrResolve):
		errno = unix.ENOSYS
	default:
		errno = unix.EIO
	}
	*errnum = C.int(errno)
	if rc >= 0 {
		rc = -1
	}
	return C.int(rc)
}

func main() {}
