// Package logging configures the log/slog loggers used across stablemock.
//
// Every component takes a *slog.Logger through its constructor or options and
// falls back to Nop when none is given:
//
//	log := logging.New(logging.Config{Level: logging.LevelDebug})
//	log.Info("rules written", "class", "OrderServiceTest", "file", path)
//
// Open additionally writes JSON records to a rotating file when Config.File is
// set; the returned io.Closer releases the file.
package logging
