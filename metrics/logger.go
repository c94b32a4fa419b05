package metrics

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Logger receives every finished request record.
type Logger interface {
	Log(info *RequestData)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *RequestData) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger writes JSON lines to requests<N> files in LogDir, rotated at
// MaxLogFileSize and keeping at most MaxLogFiles per writer.
type FileLogger struct {
	MetricsQueue   chan *RequestData
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewFileLoggerFromEnv lets GEOSERVE_MAX_LOG_FILE_SIZE and
// GEOSERVE_MAX_LOG_FILES override the configured limits.
func NewFileLoggerFromEnv(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if val, ok := os.LookupEnv("GEOSERVE_MAX_LOG_FILE_SIZE"); ok {
		if v, e := strconv.ParseInt(strings.TrimSpace(val), 10, 64); e == nil {
			maxLogFileSize = v
		} else {
			log.Printf("invalid GEOSERVE_MAX_LOG_FILE_SIZE: %v", e)
		}
	}
	if val, ok := os.LookupEnv("GEOSERVE_MAX_LOG_FILES"); ok {
		if v, e := strconv.Atoi(strings.TrimSpace(val)); e == nil {
			maxLogFiles = v
		} else {
			log.Printf("invalid GEOSERVE_MAX_LOG_FILES: %v", e)
		}
	}
	return NewFileLogger(logDir, maxLogFileSize, maxLogFiles, verbose)
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *RequestData, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("FileLogger: %v", err)
	}
	for i := 0; i < defaultLogWriters; i++ {
		logger.wg.Add(1)
		go logger.startLogWriter(i)
	}

	return logger
}

func (l *FileLogger) Log(info *RequestData) {
	l.MetricsQueue <- info
}

// Close drains the queue and closes the log files.
func (l *FileLogger) Close() {
	l.closeOnce.Do(func() { close(l.MetricsQueue) })
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()
	f, err := l.openLogFile(idx)
	if err != nil {
		log.Printf("FileLogger%d: log open error: %v", idx, err)
		return
	}
	defer func() { f.Close() }()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err == nil {
			f, err = l.tryRotateLogFile(f, idx)
			if err != nil {
				continue
			}

			_, err := f.WriteString(infoStr)
			if err != nil {
				log.Printf("FileLogger%d: write error: %v", idx, err)
				continue
			}
			f.Sync()
		} else {
			log.Printf("FileLogger%d: info.ToJSON() error: %v", idx, err)
		}
	}
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	logFilePath := path.Join(l.LogDir, fmt.Sprintf("requests%d", idx))
	return os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
		return currFile, nil
	}

	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currLogFilePath := path.Join(l.LogDir, fmt.Sprintf("requests%d", idx))
	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("requests%d.%d", idx, i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		entries, err := os.ReadDir(l.LogDir)
		if err != nil {
			log.Printf("FileLogger%d: log rotation error: %v", idx, err)
			return currFile, nil
		}

		var oldestFile os.FileInfo
		oldestTime := time.Now()
		for _, entry := range entries {
			file, err := entry.Info()
			if err != nil || !file.Mode().IsRegular() {
				continue
			}

			fileName := filepath.Base(file.Name())
			fn := strings.TrimSuffix(fileName, path.Ext(fileName))

			if fn != fmt.Sprintf("requests%d", idx) || fileName == fn {
				continue
			}

			if file.ModTime().Before(oldestTime) {
				oldestFile = file
				oldestTime = file.ModTime()
			}
		}

		if oldestFile != nil {
			rotatedLogFilePath = path.Join(l.LogDir, oldestFile.Name())
		} else {
			rotatedLogFilePath = path.Join(l.LogDir, fmt.Sprintf("requests%d.%d", idx, 0))
		}

		if l.Verbose {
			log.Printf("FileLogger%d: maximum number of log files reached, overwriting %s", idx, rotatedLogFilePath)
		}
		err = os.Remove(rotatedLogFilePath)
		if err != nil {
			log.Printf("FileLogger%d log rotation error: %v", idx, err)
			return currFile, nil
		}
	}

	currFile.Close()
	err = os.Rename(currLogFilePath, rotatedLogFilePath)
	if err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
	} else if l.Verbose {
		log.Printf("FileLogger%d: log file rotated: %v", idx, rotatedLogFilePath)
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
	}

	return f, err
}
