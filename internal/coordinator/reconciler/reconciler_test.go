package reconciler_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tjper/raceworker/internal/coordinator/instrumentation"
	"github.com/tjper/raceworker/internal/coordinator/reconciler"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
)

// fakeWait4 replays a fixed sequence of (pid, status) events, then reports
// "no more children" forever.
func fakeWait4(events []fakeEvent) reconciler.Wait4 {
	i := 0
	return func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error) {
		if i >= len(events) {
			return 0, nil
		}
		ev := events[i]
		i++
		*wstatus = ev.status
		return ev.pid, nil
	}
}

type fakeEvent struct {
	pid    int
	status unix.WaitStatus
}

func TestDrainTransitionsStartedToIdle(t *testing.T) {
	tbl := workertable.New(1)
	tbl.Init(0, 100, nil, nil)

	rec := reconciler.New(tbl, instrumentation.Noop{})
	rec.SetWait4(fakeWait4([]fakeEvent{
		{pid: 100, status: stoppedStatus()},
	}))
	rec.Drain()

	require.Equal(t, workertable.Idle, tbl.Records()[0].State())
}

func TestDrainUnknownPidIsFatal(t *testing.T) {
	tbl := workertable.New(1)
	tbl.Init(0, 100, nil, nil)

	rec := reconciler.New(tbl, instrumentation.Noop{})
	rec.SetWait4(fakeWait4([]fakeEvent{
		{pid: 999, status: stoppedStatus()},
	}))
	rec.Drain()

	select {
	case err := <-rec.Fatal():
		require.Error(t, err)
	default:
		t.Fatal("expected fatal error for unknown pid")
	}
}

func TestDrainSignalledWorkerIsAbortedAndFatal(t *testing.T) {
	tbl := workertable.New(1)
	tbl.Init(0, 100, nil, nil)

	rec := reconciler.New(tbl, instrumentation.Noop{})
	rec.SetWait4(fakeWait4([]fakeEvent{
		{pid: 100, status: signalledStatus()},
	}))
	rec.Drain()

	require.Equal(t, workertable.Aborted, tbl.Records()[0].State())

	select {
	case err := <-rec.Fatal():
		require.Error(t, err)
	default:
		t.Fatal("expected fatal error for aborted worker")
	}
}

func TestDrainWakesOnce(t *testing.T) {
	tbl := workertable.New(1)
	tbl.Init(0, 100, nil, nil)

	rec := reconciler.New(tbl, instrumentation.Noop{})
	rec.SetWait4(fakeWait4([]fakeEvent{
		{pid: 100, status: stoppedStatus()},
	}))
	rec.Drain()

	select {
	case <-rec.Wake():
	default:
		t.Fatal("expected a wake signal after draining an event")
	}
}

// stoppedStatus builds a unix.WaitStatus reporting the process stopped.
// unix.WaitStatus is an encoded int on linux; construct the stopped
// encoding directly (mirrors the kernel's WIFSTOPPED/WSTOPSIG encoding).
func stoppedStatus() unix.WaitStatus {
	const wStopped = 0x7f
	return unix.WaitStatus(uint32(unix.SIGSTOP)<<8 | wStopped)
}

// signalledStatus builds a unix.WaitStatus reporting the process killed by a
// signal: the low 7 bits carry the terminating signal and are neither 0
// (exited) nor 0x7f (stopped).
func signalledStatus() unix.WaitStatus {
	return unix.WaitStatus(uint32(unix.SIGKILL))
}
