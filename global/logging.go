package global

import (
	"os"

	"github.com/go-kit/log"
)

// Logger is the process-wide logfmt logger. Packages log through it with
// go-kit levels rather than carrying loggers of their own.
var Logger log.Logger

func init() {
	Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}
