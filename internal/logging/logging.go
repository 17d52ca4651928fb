/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter configures zerolog and tees raw JSON events into capture
// (typically the log ring) while the console writer keeps stdout readable.
func SetupWithWriter(environment string, capture io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	if capture != nil {
		writer = zerolog.MultiLevelWriter(writer, capture)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

// ForRoom returns a child logger tagged with component and room fields.
func ForRoom(logger zerolog.Logger, component, room string) zerolog.Logger {
	return logger.With().Str("component", component).Str("room", room).Logger()
}
