package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

var (
	WarningLog *log.Logger
	InfoLog    *log.Logger
	ErrorLog   *log.Logger
	DebugLog   *log.Logger
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

var logFileName = filepath.Join(os.TempDir(), "rtcore.log")

var globalLogFile *os.File

const logFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

func init() {
	setOutput(os.Stderr, "%s")
}

func setOutput(w io.Writer, fmtS string) {
	InfoLog = log.New(w, fmt.Sprintf(fmtS, "INFO:"), logFlags)
	WarningLog = log.New(w, fmt.Sprintf(fmtS, "WARNING:"), logFlags)
	ErrorLog = log.New(w, fmt.Sprintf(fmtS, "ERROR:"), logFlags)
	if debugEnabled {
		DebugLog = log.New(w, fmt.Sprintf(fmtS, "DEBUG:"), logFlags)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

// Initialize should be called once at the beginning of the program to set up logging.
// defer Close() after calling this function. It sets the go log output to the file in
// the os temp directory. Until then every logger writes to stderr.
func Initialize(daemon bool) {
	fmtS := "%s"
	if daemon {
		fmtS = "[DAEMON] %s"
	}

	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		setOutput(os.Stderr, fmtS)
		fmt.Fprintf(os.Stderr, "Warning: using stderr for logging: %v\n", err)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	setOutput(f, fmtS)
	globalLogFile = f
}

func Close() {
	if globalLogFile == nil {
		return
	}
	_ = globalLogFile.Close()
	globalLogFile = nil
	setOutput(os.Stderr, "%s")
	fmt.Println("wrote logs to " + logFileName)
}

// FileName returns the path Initialize writes to.
func FileName() string {
	return logFileName
}

// AssertFatal reports a broken invariant. The message is written to ErrorLog
// with the caller's position and the goroutine panics with the same text.
// Callers must not recover from it: the state that produced it is corrupt.
func AssertFatal(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if _, file, line, ok := runtime.Caller(1); ok {
		msg = fmt.Sprintf("%s:%d assertion failed: %s", filepath.Base(file), line, msg)
	}
	_ = ErrorLog.Output(2, msg)
	panic(msg)
}

// Every is used to log at most once every timeout duration.
type Every struct {
	timeout time.Duration
	timer   *time.Timer
}

func NewEvery(timeout time.Duration) *Every {
	return &Every{timeout: timeout}
}

// ShouldLog returns true if the timeout has passed since the last log.
func (e *Every) ShouldLog() bool {
	if e.timer == nil {
		e.timer = time.NewTimer(e.timeout)
		return true
	}

	select {
	case <-e.timer.C:
		e.timer.Reset(e.timeout)
		return true
	default:
		return false
	}
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}
