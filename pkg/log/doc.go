// Package log provides inboxq's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by the standard library's
// slog: text output goes through a tint handler for readable console logs,
// JSON output through slog's own JSON handler. Code elsewhere in the tree
// depends only on this facade.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("runner"))
//	l.Info("drain complete", log.Int("jobs", 12))
//
// Use ApplyConfig to build a logger from a declarative Config (level and
// format as strings, as they arrive from config files or flags). To hand a
// *log.Logger to libraries that want one (Pebble's event listener does), use
// ToStdLogger.
package log
