package relay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Endpoints holds the socket paths for one operation run.
// Both the server side and the helper receive the same value.
type Endpoints struct {
	Dir     string
	Percent string
	Status  string
}

// NewEndpoints creates a private per-run directory under baseDir
// (os.TempDir() when empty) and derives socket paths for operation,
// e.g. "apt_update" yields apt_update_percent.sock and apt_update_status.sock.
func NewEndpoints(baseDir, operation string) (Endpoints, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	dir := filepath.Join(baseDir, "pikman-"+uuid.NewString()[:8])
	if err := os.Mkdir(dir, 0700); err != nil {
		return Endpoints{}, fmt.Errorf("failed to create relay directory: %w", err)
	}

	return EndpointsIn(dir, operation), nil
}

// EndpointsIn derives socket paths inside an existing directory.
func EndpointsIn(dir, operation string) Endpoints {
	return Endpoints{
		Dir:     dir,
		Percent: filepath.Join(dir, operation+"_percent.sock"),
		Status:  filepath.Join(dir, operation+"_status.sock"),
	}
}

// Path returns the socket path for ch.
func (e Endpoints) Path(ch Channel) string {
	if ch == ChannelPercent {
		return e.Percent
	}
	return e.Status
}

// Remove deletes the per-run directory and everything in it.
func (e Endpoints) Remove() error {
	if e.Dir == "" {
		return nil
	}
	return os.RemoveAll(e.Dir)
}
