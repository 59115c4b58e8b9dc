// Package lifecycle installs, activates and retires cache versions.
package lifecycle

import "fmt"

// State is the lifecycle state of the newest version.
type State int

const (
	StateIdle State = iota
	StateInstalling
	// StateInstalled means installed and waiting for activation.
	StateInstalled
	StateActivating
	StateActive
	// StateRedundant means an install failed and no version is installed.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Version identifies one generation of cache stores.
type Version struct {
	Tag          string `json:"tag"`
	ShellStore   string `json:"shell_store"`
	RuntimeStore string `json:"runtime_store"`
}

// Stores lists the store names that belong to v.
func (v Version) Stores() []string {
	return []string{v.ShellStore, v.RuntimeStore}
}

// Status is a snapshot of the controller for status endpoints.
type Status struct {
	State   string `json:"state"`
	Active  string `json:"active,omitempty"`
	Waiting string `json:"waiting,omitempty"`
	// Failed is the most recent version whose install failed.
	Failed string `json:"failed,omitempty"`
}
