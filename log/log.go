// Package log is a small leveled console logger matching the call
// convention used throughout turbo-geth (log.Info("msg", "key", val, ...)).
// Colorized output is driven by github.com/logrusorgru/aurora when the
// destination is a terminal (detected via go-isatty / go-colorable), the
// same three packages turbo-geth itself lists for console logging.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log verbosity level.
type Level int

const (
	LvlError Level = iota
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

// Logger is a named, leveled sink. The zero value is not usable; use New.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	name   string
	ctx    []interface{}
	minLvl Level
}

var root = New("")

// SetLevel adjusts the minimum level printed by the root logger.
func SetLevel(l Level) { root.SetLevel(l) }

// New creates a named logger. Additional key/value context may be attached
// with With.
func New(name string, ctx ...interface{}) *Logger {
	var out io.Writer = os.Stderr
	color := false
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = colorable.NewColorableStderr()
		color = true
	}
	return &Logger{out: out, color: color, name: name, ctx: ctx, minLvl: LvlInfo}
}

// SetLevel adjusts the logger's minimum printed level.
func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLvl = lvl
}

// With returns a child logger carrying additional key/value context.
func (l *Logger) With(ctx ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &Logger{out: l.out, color: l.color, name: l.name, ctx: merged, minLvl: l.minLvl}
}

func (l *Logger) log(lvl Level, msg string, kv []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl > l.minLvl {
		return
	}
	ts := time.Now().Format("01-02|15:04:05.000")
	levelStr := lvl.String()
	if l.color {
		switch lvl {
		case LvlError:
			levelStr = aurora.Red(levelStr).String()
		case LvlWarn:
			levelStr = aurora.Yellow(levelStr).String()
		case LvlInfo:
			levelStr = aurora.Green(levelStr).String()
		default:
			levelStr = aurora.Gray(12, levelStr).String()
		}
	}
	fmt.Fprintf(l.out, "%s[%s] %s", ts, levelStr, msg)
	all := append(append([]interface{}{}, l.ctx...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(l.out)
}

func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LvlError, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LvlWarn, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LvlInfo, msg, kv) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LvlDebug, msg, kv) }
func (l *Logger) Trace(msg string, kv ...interface{}) { l.log(LvlTrace, msg, kv) }

// Package-level helpers delegate to the root logger, mirroring
// turbo-geth's log.Info/Warn/Error package functions.
func Error(msg string, kv ...interface{}) { root.Error(msg, kv...) }
func Warn(msg string, kv ...interface{})  { root.Warn(msg, kv...) }
func Info(msg string, kv ...interface{})  { root.Info(msg, kv...) }
func Debug(msg string, kv ...interface{}) { root.Debug(msg, kv...) }
func Trace(msg string, kv ...interface{}) { root.Trace(msg, kv...) }
