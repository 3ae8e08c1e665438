// Package instance identifies this process to shared storage, so open-trade
// rows can record which deployment admitted them.
package instance

import (
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

const appID = "signal-trader"

var (
	once   sync.Once
	cached string

	protectedID = machineid.ProtectedID
	hostname    = os.Hostname
)

// ID returns a stable, app-scoped machine identifier. When the OS does not
// expose a machine id it falls back to the hostname, then to a random id that
// lives for the process.
func ID() string {
	once.Do(func() { cached = resolve() })
	return cached
}

func resolve() string {
	if id, err := protectedID(appID); err == nil && id != "" {
		return id
	}
	if h, err := hostname(); err == nil && h != "" {
		return "host-" + h
	}
	return "proc-" + uuid.NewString()
}
