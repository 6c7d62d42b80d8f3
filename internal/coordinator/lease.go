package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/pkg/backuperrors"
)

// Lease is the run-scoped exclusive lock preventing two overlapping
// coordinator runs (e.g. from an overlapping schedule). It is a lock file
// created exclusively and holding the owner's PID, so a lease left behind by
// a dead process can be detected and broken.
type Lease struct {
	path   string
	logger *zap.Logger
}

// AcquireLease takes the exclusive run lease for the named engine instance.
// A live holder is a hard error; a stale lease from a dead PID is broken
// once and reacquired.
func AcquireLease(stateDir, name string, logger *zap.Logger) (*Lease, error) {
	path := filepath.Join(stateDir, name+".lock")
	l := &Lease{path: path, logger: logger}

	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to create state directory").
			WithDetail("dir", stateDir)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // G304: path built from config
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, backuperrors.Wrap(werr, backuperrors.ErrorTypeState, "failed to write run lease")
			}
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to create run lease").
				WithDetail("path", path)
		}

		pid, perr := readLeasePID(path)
		if perr == nil && processAlive(pid) {
			return nil, backuperrors.Newf(backuperrors.ErrorTypeState, "another run holds the lease (pid %d)", pid).
				WithDetail("path", path)
		}

		logger.Warn("breaking stale run lease",
			zap.String("path", path),
			zap.Int("pid", pid))
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, backuperrors.Wrap(rerr, backuperrors.ErrorTypeState, "failed to break stale lease")
		}
	}

	return nil, backuperrors.New(backuperrors.ErrorTypeState, "failed to acquire run lease").
		WithDetail("path", path)
}

// Release removes the lease file.
func (l *Lease) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("failed to release run lease", zap.String("path", l.path), zap.Error(err))
	}
}

func readLeasePID(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: lease path built from config
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
