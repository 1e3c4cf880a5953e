// Package nlog provides a small buffered, leveled logger used throughout
// the call core: timestamped lines, size-triggered flush, warnings and
// errors always echoed to stderr, and an optional "also to stderr" mode
// for every severity.
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

var (
	toStderr     bool
	alsoToStderr bool
	logDir       string
	title        string

	once sync.Once
	w    *writer
)

type writer struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	file    *os.File
	written int64
	oob     bool
}

// MaxSize is the rough byte count after which log() flushes the buffer to
// the file and restarts its count; files are never truncated or rotated,
// this module only ever appends to logDir/<title>.log when one is configured.
var MaxSize int64 = 4 * 1024 * 1024

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func SetLogDirRole(dir, _role string) { logDir = dir }
func SetTitle(s string)               { title = s }

func get() *writer {
	once.Do(func() {
		w = &writer{}
		if logDir != "" && !toStderr {
			name := title
			if name == "" {
				name = "callcore"
			}
			if f, err := os.OpenFile(filepath.Join(logDir, name+".log"),
				os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				w.file = f
				w.buf = bufio.NewWriter(f)
			}
		}
	})
	return w
}

func header(sev severity, depth int) string {
	_, fn, ln, ok := runtime.Caller(depth + 2)
	if ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
	} else {
		fn, ln = "???", 0
	}
	return fmt.Sprintf("%c %s %s:%d] ", sevChar[sev], time.Now().Format("15:04:05.000000"), fn, ln)
}

func log(sev severity, depth int, format string, args ...any) {
	line := header(sev, depth)
	if format == "" {
		line += fmt.Sprintln(args...)
	} else {
		line += fmt.Sprintf(format, args...)
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
	}

	ww := get()
	if toStderr || ww.buf == nil || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	if ww.buf == nil {
		return
	}

	ww.mu.Lock()
	n, _ := ww.buf.WriteString(line)
	ww.written += int64(n)
	if sev >= sevWarn {
		ww.oob = true
		ww.buf.Flush()
	}
	if ww.written >= MaxSize {
		ww.buf.Flush()
		ww.written = 0
	}
	ww.mu.Unlock()
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                 { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)   { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)              { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any){ log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)  { log(sevErr, 0, format, args...) }

func Flush(exit ...bool) {
	ww := get()
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.buf != nil {
		ww.buf.Flush()
	}
	if len(exit) > 0 && exit[0] && ww.file != nil {
		ww.file.Sync()
	}
	ww.oob = false
}

func OOB() bool {
	ww := get()
	ww.mu.Lock()
	defer ww.mu.Unlock()
	return ww.oob
}
