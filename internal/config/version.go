package config

import "fmt"

// CurrentVersion is the config file version this build reads.
const CurrentVersion = 1

// VersionMismatch says which way an unsupported version points.
type VersionMismatch int

const (
	// VersionMissing covers zero and negative version fields.
	VersionMissing VersionMismatch = iota
	// VersionOutdated means an older build wrote the file.
	VersionOutdated
	// VersionAhead means a newer build wrote the file.
	VersionAhead
)

// VersionError reports a config file version this build cannot read.
type VersionError struct {
	Version  int
	Current  int
	Mismatch VersionMismatch
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Mismatch == VersionAhead {
		return fmt.Sprintf("config version %d is newer than this build (current: %d). upgrade Cortex to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is unsupported (current: %d). run `cortex init` to regenerate a starter config", e.Version, e.Current)
}

// ValidateVersion checks a config version against CurrentVersion.
func ValidateVersion(version int) error {
	switch {
	case version <= 0:
		return &VersionError{Version: version, Current: CurrentVersion, Mismatch: VersionMissing}
	case version < CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Mismatch: VersionOutdated}
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Mismatch: VersionAhead}
	}
	return nil
}
