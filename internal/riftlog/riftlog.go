// Package riftlog is the node's structured logger, adapted from the
// teacher's ingest/log package: the same Level ladder, Relay fan-out, and
// RFC5424 structured-data output via github.com/crewjam/rfc5424, trimmed to
// what a single-process RIFT node needs (no raw-mode toggle, no
// format-string variants — every call site here logs a fixed message plus
// structured fields, matching how a link-state protocol logs discrete
// events rather than free-form text).
package riftlog

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

// LevelFromString parses a config-file log level the way the teacher's
// Logger.SetLevelString does.
func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	}
	return OFF, ErrInvalidLevel
}

var ErrInvalidLevel = errors.New("riftlog: invalid log level")

// Relay mirrors ingest/log.Relay: a sink that also wants every log line.
type Relay interface {
	WriteLog(time.Time, []byte) error
}

// Logger is a single node's logger: one or more writers plus relays, a
// level floor, and a hostname/appname pair stamped on every RFC5424 line.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.Writer
	rls      []Relay
	lvl      Level
	hostname string
	appname  string
}

// New builds a Logger writing to wtr at INFO and above.
func New(appname string, wtr io.Writer) *Logger {
	host, _ := os.Hostname()
	return &Logger{wtrs: []io.Writer{wtr}, lvl: INFO, hostname: host, appname: appname}
}

// NewDiscard builds a Logger that drops everything, for tests.
func NewDiscard() *Logger { return New("rift", io.Discard) }

func (l *Logger) SetLevel(lvl Level) { l.mtx.Lock(); l.lvl = lvl; l.mtx.Unlock() }

func (l *Logger) AddRelay(r Relay) { l.mtx.Lock(); l.rls = append(l.rls, r); l.mtx.Unlock() }

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) { l.log(DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)  { l.log(INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)  { l.log(WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) { l.log(ERROR, msg, sds...) }

func (l *Logger) log(lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.lvl == OFF || lvl < l.lvl {
		return
	}
	ts := time.Now()
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: ts,
		Hostname:  l.hostname,
		AppName:   l.appname,
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: "rift@1", Parameters: sds}}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return
	}
	for _, w := range l.wtrs {
		io.WriteString(w, string(b))
		io.WriteString(w, "\n")
	}
	for _, r := range l.rls {
		r.WriteLog(ts, b)
	}
}

// SD is a convenience constructor for a structured-data field, matching the
// call shape ingest/log users pass to Logger.Info/.Warn/etc.
func SD(name, value string) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: value}
}
