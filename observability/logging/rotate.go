package logging

import (
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotation describes a size-bounded log file.
type FileRotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TeeToFile mirrors stdout logs into a rotating file. The returned closer
// releases the file handle; it is a no-op when no path is configured.
func TeeToFile(rot FileRotation) (Option, io.Closer) {
	if strings.TrimSpace(rot.Path) == "" {
		return WithWriter(os.Stdout), io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   rot.Path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   true,
	}
	return WithWriter(io.MultiWriter(os.Stdout, file)), file
}
