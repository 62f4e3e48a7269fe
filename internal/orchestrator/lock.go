package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// assetLock is an exclusive advisory lock on one asset id, held for the
// duration of a job or a recovery sweep. It also excludes other processes sharing the package root.
type assetLock struct {
	fl *flock.Flock
}

func lockAsset(dir, assetID string) (*assetLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, assetID+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock asset %s: %w", assetID, err)
	}
	if !ok {
		return nil, ErrAssetBusy
	}
	return &assetLock{fl: fl}, nil
}

// release unlocks. The lock file stays in place: deleting it would let a
// process that opened the old inode and one that created a new file both
// believe they hold the lock.
func (l *assetLock) release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
