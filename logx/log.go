// Package logx
// Author: momentics <momentics@gmail.com>
//
// Structured logging facade over sirupsen/logrus. Maintains a process-wide
// atomic severity threshold (spec: "Log level is a process-wide threshold;
// records below threshold are elided at the call site") and a per-daemon
// thread tag, since Go goroutines have no OS thread-local storage to hang
// one off.
package logx

import (
	"go.uber.org/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kavach-systems/poseidon/api"
)

var level = atomic.NewInt32(int32(api.LogInfo))

// SetLevel adjusts the process-wide log threshold.
func SetLevel(l api.LogLevel) {
	level.Store(int32(l))
}

// Level returns the current process-wide threshold.
func Level() api.LogLevel {
	return api.LogLevel(level.Load())
}

// Logger is a tag-scoped facade bound to one daemon's goroutine. Every
// framework daemon constructs exactly one Logger at start-up and reuses it
// for every log call site on that goroutine, which is the Go substitute for
// the C++ framework's per-thread log tag.
type Logger struct {
	tag   api.ThreadTag
	entry *logrus.Entry
}

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// New constructs a Logger tagged for the given daemon thread.
func New(tag api.ThreadTag) *Logger {
	return &Logger{tag: tag, entry: base.WithField("tag", tag.String())}
}

func (l *Logger) enabled(lvl api.LogLevel) bool {
	return lvl <= Level()
}

// log formats and emits a record if lvl is at or above the current
// threshold. File/line are attached by the caller via withSource so that
// they reflect the framework call site, not this facade. The first element
// of args is the message; any further elements are taken as alternating
// key/value pairs and attached via WithField, matching the retrieved pack's
// logrus idiom rather than being flattened into the message text.
func (l *Logger) log(lvl api.LogLevel, file string, line int, args ...any) {
	if !l.enabled(lvl) {
		return
	}
	entry := l.entry.WithField("src", srcTag(file, line))
	var msg any
	if len(args) > 0 {
		msg = args[0]
		args = args[1:]
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		entry = entry.WithField(key, args[i+1])
	}
	// A logging call must never itself abort the process or propagate a
	// panic from a bad Stringer implementation in args; recover and drop.
	defer func() { _ = recover() }()
	switch lvl {
	case api.LogFatal:
		entry.Error(msg) // process abort is the caller's explicit call, see Fatal below
	case api.LogError:
		entry.Error(msg)
	case api.LogWarning:
		entry.Warn(msg)
	case api.LogInfo:
		entry.Info(msg)
	case api.LogDebug:
		entry.Debug(msg)
	}
}

func srcTag(file string, line int) string {
	if file == "" {
		return ""
	}
	return file + ":" + itoa(line)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Debug, Info, Warning, Error log at the corresponding level.
func (l *Logger) Debug(file string, line int, args ...any)   { l.log(api.LogDebug, file, line, args...) }
func (l *Logger) Info(file string, line int, args ...any)    { l.log(api.LogInfo, file, line, args...) }
func (l *Logger) Warning(file string, line int, args ...any) { l.log(api.LogWarning, file, line, args...) }
func (l *Logger) Error(file string, line int, args ...any)   { l.log(api.LogError, file, line, args...) }

// Fatal logs at fatal severity and aborts the process, matching the
// framework's policy that fatal-level entries from the framework itself
// (e.g. double-start of the SQL daemon) are unrecoverable.
func (l *Logger) Fatal(file string, line int, args ...any) {
	entry := l.entry.WithField("src", srcTag(file, line))
	var msg any
	if len(args) > 0 {
		msg = args[0]
		args = args[1:]
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		entry = entry.WithField(key, args[i+1])
	}
	entry.Panic(msg)
}
