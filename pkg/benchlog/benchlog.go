// Package benchlog provides the project's structured logger: a thin
// logrus wrapper carrying this module's defaults, in the shape of
// nabbar-golib's logger package (a small façade over a logrus backend)
// rather than its larger multi-backend abstraction.
package benchlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Get returns the process-wide logger, initialised lazily with this
// module's defaults: text formatter, stderr output, WarnLevel unless
// SetVerbose has enabled diagnostics. Per spec.md §7, this logger carries
// non-contractual diagnostics only — never the final report line.
func Get() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.SetLevel(logrus.WarnLevel)
	})
	return logger
}

// SetVerbose raises the logger to DebugLevel when the run was started with
// -v/--verbose (SPEC_FULL.md §3.2); otherwise it stays at WarnLevel so a
// default run produces no per-cycle noise on stderr.
func SetVerbose(verbose bool) {
	if verbose {
		Get().SetLevel(logrus.DebugLevel)
	}
}
