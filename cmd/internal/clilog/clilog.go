// Package clilog sets up console logging for the command line tools and
// routes the library loggers into it.
package clilog

import (
	"fmt"
	"os"
	"time"

	"github.com/decred/slog"
	"github.com/rs/zerolog"

	"github.com/gen2brain/vaudio"
	"github.com/gen2brain/vaudio/alsa"
	"github.com/gen2brain/vaudio/loopback"
)

// New returns a console logger on stderr. With verbose set, debug messages
// of the library packages are shown too.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	vaudio.UseLogger(Adapt(logger, "VAUD"))
	alsa.UseLogger(Adapt(logger, "ALSA"))
	loopback.UseLogger(Adapt(logger, "LOOP"))

	return logger
}

// Adapt returns a slog.Logger writing into l, tagged with subsystem.
func Adapt(l zerolog.Logger, subsystem string) slog.Logger {
	lg := &logger{z: l.With().Str("sub", subsystem).Logger()}
	lg.SetLevel(fromZerolog(l.GetLevel()))

	return lg
}

type logger struct {
	z     zerolog.Logger
	level slog.Level
}

func fromZerolog(l zerolog.Level) slog.Level {
	switch l {
	case zerolog.TraceLevel:
		return slog.LevelTrace
	case zerolog.DebugLevel:
		return slog.LevelDebug
	case zerolog.InfoLevel:
		return slog.LevelInfo
	case zerolog.WarnLevel:
		return slog.LevelWarn
	case zerolog.ErrorLevel:
		return slog.LevelError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return slog.LevelCritical
	default:
		return slog.LevelOff
	}
}

func (lg *logger) event(level slog.Level) *zerolog.Event {
	if level < lg.level {
		return nil
	}

	switch level {
	case slog.LevelTrace:
		return lg.z.Trace()
	case slog.LevelDebug:
		return lg.z.Debug()
	case slog.LevelInfo:
		return lg.z.Info()
	case slog.LevelWarn:
		return lg.z.Warn()
	default:
		return lg.z.Error()
	}
}

func (lg *logger) logf(level slog.Level, format string, params ...any) {
	if e := lg.event(level); e != nil {
		e.Msgf(format, params...)
	}
}

func (lg *logger) log(level slog.Level, v ...any) {
	if e := lg.event(level); e != nil {
		e.Msg(fmt.Sprint(v...))
	}
}

func (lg *logger) Tracef(format string, params ...any)    { lg.logf(slog.LevelTrace, format, params...) }
func (lg *logger) Debugf(format string, params ...any)    { lg.logf(slog.LevelDebug, format, params...) }
func (lg *logger) Infof(format string, params ...any)     { lg.logf(slog.LevelInfo, format, params...) }
func (lg *logger) Warnf(format string, params ...any)     { lg.logf(slog.LevelWarn, format, params...) }
func (lg *logger) Errorf(format string, params ...any)    { lg.logf(slog.LevelError, format, params...) }
func (lg *logger) Criticalf(format string, params ...any) { lg.logf(slog.LevelCritical, format, params...) }

func (lg *logger) Trace(v ...any)    { lg.log(slog.LevelTrace, v...) }
func (lg *logger) Debug(v ...any)    { lg.log(slog.LevelDebug, v...) }
func (lg *logger) Info(v ...any)     { lg.log(slog.LevelInfo, v...) }
func (lg *logger) Warn(v ...any)     { lg.log(slog.LevelWarn, v...) }
func (lg *logger) Error(v ...any)    { lg.log(slog.LevelError, v...) }
func (lg *logger) Critical(v ...any) { lg.log(slog.LevelCritical, v...) }

func (lg *logger) Level() slog.Level {
	return lg.level
}

func (lg *logger) SetLevel(level slog.Level) {
	lg.level = level
}
