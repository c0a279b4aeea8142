// Package logging builds the process's zap.Logger from the per-level sink
// selection in config.xml (spec.md §6 "log.{debug,info,net,warn,err}").
// Each level is routed to the terminal, a shared log file, or both,
// independently of the others; "net" is a named channel carrying I/O-layer
// events rather than a severity, so its routing is keyed on logger name
// instead of level.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meshnode/meshnode/internal/config"
)

// NetLoggerName is the Logger.Named() key routed by log.net.
const NetLoggerName = "net"

// Build constructs the process logger from cfg's sink selectors. logFilePath
// is only opened if at least one level is configured for "file" or "both".
// The returned closer flushes and closes the log file, if one was opened.
func Build(cfg *config.Config, logFilePath string) (*zap.Logger, func() error, error) {
	needsFile := usesFile(cfg.LogDebug) || usesFile(cfg.LogInfo) || usesFile(cfg.LogNet) ||
		usesFile(cfg.LogWarn) || usesFile(cfg.LogErr)

	var fileSync zapcore.WriteSyncer
	closeFile := func() error { return nil }
	if needsFile {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", logFilePath, err)
		}
		fileSync = zapcore.AddSync(f)
		closeFile = f.Close
	}

	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())

	sinkFor := func(mode config.SinkMode) zapcore.WriteSyncer {
		switch mode {
		case config.SinkFile:
			return fileSync
		case config.SinkBoth:
			return zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), fileSync)
		default:
			return zapcore.AddSync(os.Stdout)
		}
	}

	isNet := func(ent zapcore.Entry) bool { return ent.LoggerName == NetLoggerName }
	notNet := func(ent zapcore.Entry) bool { return ent.LoggerName != NetLoggerName }

	cores := []zapcore.Core{
		namedCore(zapcore.NewCore(encoder, sinkFor(cfg.LogDebug), exactly(zapcore.DebugLevel)), notNet),
		namedCore(zapcore.NewCore(encoder, sinkFor(cfg.LogInfo), exactly(zapcore.InfoLevel)), notNet),
		namedCore(zapcore.NewCore(encoder, sinkFor(cfg.LogNet), zapcore.InfoLevel), isNet),
		namedCore(zapcore.NewCore(encoder, sinkFor(cfg.LogWarn), exactly(zapcore.WarnLevel)), notNet),
		namedCore(zapcore.NewCore(encoder, sinkFor(cfg.LogErr), zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })), notNet),
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, closeFile, nil
}

func usesFile(m config.SinkMode) bool {
	return m == config.SinkFile || m == config.SinkBoth
}

func exactly(lvl zapcore.Level) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool { return l == lvl }
}

// NetLogger returns the sub-logger I/O-layer code should log through so its
// events are routed by log.net instead of log.info/log.debug/etc.
func NetLogger(base *zap.Logger) *zap.Logger {
	return base.Named(NetLoggerName)
}

// filteredCore gates an underlying core on an additional entry predicate,
// since zapcore.LevelEnabler only ever sees the level, not the logger name.
type filteredCore struct {
	zapcore.Core
	match func(zapcore.Entry) bool
}

func namedCore(core zapcore.Core, match func(zapcore.Entry) bool) zapcore.Core {
	return &filteredCore{Core: core, match: match}
}

func (c *filteredCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Core.Enabled(ent.Level) || !c.match(ent) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *filteredCore) With(fields []zapcore.Field) zapcore.Core {
	return &filteredCore{Core: c.Core.With(fields), match: c.match}
}
