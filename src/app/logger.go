package app

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the root logger. pretty selects the console writer, otherwise one JSON
// object is written per line.
func InitLogger(levelStr string, pretty bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			NoColor:    false,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(output).With().
		Timestamp().
		Logger()
}
