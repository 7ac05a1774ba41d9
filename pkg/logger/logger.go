package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/godcmd/pkg/redaction"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	logLevelNames = map[LogLevel]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
		FATAL: "FATAL",
	}

	currentLevel = INFO
	logger       *Logger
	once         sync.Once
	mu           sync.RWMutex

	// redactionEnabled controls whether log messages are redacted for privacy
	redactionEnabled = true
)

type Logger struct {
	file *os.File
}

type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

func init() {
	once.Do(func() {
		logger = &Logger{}
	})
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", name)
	}
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// ToggleDebug switches between DEBUG and INFO and returns the new level.
// Any level other than DEBUG toggles to DEBUG.
func ToggleDebug() LogLevel {
	mu.Lock()
	defer mu.Unlock()
	if currentLevel == DEBUG {
		currentLevel = INFO
	} else {
		currentLevel = DEBUG
	}
	return currentLevel
}

func EnableFileLogging(filePath string) error {
	mu.Lock()
	defer mu.Unlock()

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if logger.file != nil {
		logger.file.Close()
	}

	logger.file = file
	log.Println("File logging enabled:", filePath)
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()

	if logger.file != nil {
		logger.file.Close()
		logger.file = nil
		log.Println("File logging disabled")
	}
}

func logMessage(level LogLevel, component string, message string, fields map[string]any) {
	mu.RLock()
	minLevel := currentLevel
	redact := redactionEnabled
	file := logger.file
	mu.RUnlock()

	if level < minLevel {
		return
	}

	if redact {
		message = redaction.Redact(message)
		if fields != nil {
			fields = redaction.RedactFields(fields)
		}
	}

	entry := LogEntry{
		Level:     level.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if pc, file, line, ok := runtime.Caller(2); ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			entry.Caller = fmt.Sprintf("%s:%d (%s)", file, line, fn.Name())
		}
	}

	if file != nil {
		jsonData, err := json.Marshal(entry)
		if err == nil {
			file.Write(append(jsonData, '\n'))
		}
	}

	var fieldStr string
	if len(fields) > 0 {
		fieldStr = " " + formatFields(fields)
	}

	log.Println(fmt.Sprintf("[%s] [%s]%s %s%s",
		entry.Timestamp,
		entry.Level,
		formatComponent(component),
		message,
		fieldStr,
	))

	if level == FATAL {
		os.Exit(1)
	}
}

func formatComponent(component string) string {
	if component == "" {
		return ""
	}
	return fmt.Sprintf(" %s:", component)
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(fields))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ", "))
}

func DebugCF(component string, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component string, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component string, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component string, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

// SetRedactionEnabled enables or disables log redaction for privacy.
func SetRedactionEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	redactionEnabled = enabled
}

// IsRedactionEnabled returns whether log redaction is enabled.
func IsRedactionEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return redactionEnabled
}

// ConfigureRedaction sets up the global redaction configuration.
func ConfigureRedaction(config redaction.Config) {
	redaction.SetGlobalConfig(config)
}
