package util

import (
	"log/slog"
	"time"
)

// Trace 记录一段操作的耗时
//
//	defer util.Trace("remove background")()
func Trace(msg string) func() {
	start := time.Now()
	slog.Debug("start", "op", msg)
	return func() {
		slog.Debug("done", "op", msg, "elapsed", time.Since(start).String())
	}
}
