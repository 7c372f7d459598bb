package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RunLogger keeps a plain-text transcript of a single pipeline run.
// Every line is mirrored to the global zerolog logger at debug level.
type RunLogger struct {
	runID     string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

var (
	currentLogger *RunLogger
	loggerMutex   sync.Mutex
)

// StartRunLogging initializes logging for a new run. With an empty dir no
// transcript file is written and the logger only forwards to zerolog.
func StartRunLogging(runID, dir string) (*RunLogger, error) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if currentLogger != nil {
		currentLogger.Close()
	}

	logger := &RunLogger{
		runID:     runID,
		startTime: time.Now(),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		timestamp := logger.startTime.Format("20060102_150405")
		logPath := filepath.Join(dir, fmt.Sprintf("run_%s_%s.log", runID, timestamp))
		logFile, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		logger.logFile = logFile
		logger.writeHeader()
	}

	currentLogger = logger
	return logger, nil
}

// GetCurrentLogger returns the current active logger
func GetCurrentLogger() *RunLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return currentLogger
}

// Path returns the transcript file path, or "" when none is written
func (r *RunLogger) Path() string {
	if r == nil || r.logFile == nil {
		return ""
	}
	return r.logFile.Name()
}

// Log writes a message to the run transcript
func (r *RunLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}

	logMessage := fmt.Sprintf(format, args...)
	log.Debug().Str("run_id", r.runID).Msg(logMessage)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.logFile == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(r.startTime)
	fmt.Fprintf(r.logFile, "[%s] [+%v] %s\n", timestamp, elapsed.Round(time.Millisecond), logMessage)
	r.logFile.Sync()
}

// LogSection writes a section header to the log
func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}

	separator := strings.Repeat("=", 80)
	r.Log(separator)
	r.Log("= %s", title)
	r.Log(separator)
}

// LogBlock writes a multi-line artifact (diff, prompt, response) verbatim
func (r *RunLogger) LogBlock(label, content string) {
	if r == nil {
		return
	}

	r.Log("--- %s START (%d bytes) ---", label, len(content))
	r.mutex.Lock()
	if r.logFile != nil {
		r.logFile.WriteString(content + "\n")
	}
	r.mutex.Unlock()
	r.Log("--- %s END ---", label)
}

// LogError logs an error
func (r *RunLogger) LogError(context string, err error) {
	if r == nil {
		return
	}

	r.Log("ERROR in %s: %v", context, err)
}

// Close finalizes the log file
func (r *RunLogger) Close() {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.logFile != nil {
		fmt.Fprintf(r.logFile, "[%s] Run logging completed. Total duration: %v\n",
			time.Now().Format("15:04:05.000"), time.Since(r.startTime).Round(time.Millisecond))
		r.logFile.Sync()
		r.logFile.Close()
		r.logFile = nil
	}
}

func (r *RunLogger) writeHeader() {
	header := fmt.Sprintf(`GUARDEDIT RUN LOG
Run ID: %s
Start Time: %s
Log Format: [HH:MM:SS.mmm] [+duration] message

`, r.runID, r.startTime.Format("2006-01-02 15:04:05"))

	r.logFile.WriteString(header)
	r.logFile.Sync()
}
