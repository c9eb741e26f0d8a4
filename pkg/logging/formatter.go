package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects how log entries are rendered
type Format string

const (
	// FormatJSON writes one JSON object per line
	FormatJSON Format = "json"
	// FormatText writes human readable lines without colors
	FormatText Format = "text"
	// FormatConsole writes human readable, colored lines
	FormatConsole Format = "console"
)

// ParseFormat parses a format name, defaulting to JSON for the empty string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	case FormatConsole:
		return FormatConsole, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q", s)
	}
}

func (f Format) writer(out io.Writer) io.Writer {
	switch f {
	case FormatText, FormatConsole:
		return zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    f == FormatText,
			TimeFormat: time.RFC3339,
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				"method",
				zerolog.MessageFieldName,
			},
			FieldsExclude:    []string{"method"},
			FormatFieldValue: consoleFieldValue,
		}
	default:
		return out
	}
}

// consoleFieldValue renders missing parts as nothing instead of %!s(<nil>).
func consoleFieldValue(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s", i)
}
