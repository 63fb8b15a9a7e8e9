// Package deps is the Dependency Checker: it verifies the bot's two
// external binaries (ffmpeg for decoding, yt-dlp for resolving stream
// URLs) are on PATH before the process attempts to use either, so a
// missing install fails startup with a clear report instead of a
// mid-playback error.
package deps

import (
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Checker verifies that required dependencies are available.
type Checker struct {
	dependencies []string
}

// NewChecker creates a new dependency checker with the given dependencies.
func NewChecker(deps ...string) *Checker {
	return &Checker{dependencies: deps}
}

// CheckAll verifies all dependencies are available, returning an error
// listing all missing ones.
func (c *Checker) CheckAll() error {
	var missing []string
	for _, dep := range c.dependencies {
		if !c.IsAvailable(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// IsAvailable checks if a single dependency is available in PATH.
func (c *Checker) IsAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckAndPrint checks every dependency and logs its status as a
// structured field on log, matching the rest of the process's logrus
// setup rather than writing to stdout directly. Returns an error if any
// dependency is missing.
func (c *Checker) CheckAndPrint(log *logrus.Entry) error {
	var missing []string

	for _, dep := range c.dependencies {
		entry := log.WithField("dependency", dep)
		if c.IsAvailable(dep) {
			entry.Info("dependency found on PATH")
			continue
		}
		entry.Warn("dependency not found on PATH; install it and retry")
		missing = append(missing, dep)
	}

	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// MissingDepsError is returned when required dependencies are missing.
type MissingDepsError struct {
	Dependencies []string
}

func (e *MissingDepsError) Error() string {
	return fmt.Sprintf("missing dependencies: %v", e.Dependencies)
}
