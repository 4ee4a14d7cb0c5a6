package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "sentryscan-controller").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// Registry creates a logger for agent registry events
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}

// Coordinator creates a logger for scan coordination events
func Coordinator() *zerolog.Logger {
	l := Log.With().Str("component", "coordinator").Logger()
	return &l
}

// Dispatcher creates a logger for job dispatch events
func Dispatcher() *zerolog.Logger {
	l := Log.With().Str("component", "dispatcher").Logger()
	return &l
}

// Ingestor creates a logger for result ingestion events
func Ingestor() *zerolog.Logger {
	l := Log.With().Str("component", "ingestor").Logger()
	return &l
}

// Liveness creates a logger for the liveness monitor
func Liveness() *zerolog.Logger {
	l := Log.With().Str("component", "liveness").Logger()
	return &l
}

// Config creates a logger for the config service
func Config() *zerolog.Logger {
	l := Log.With().Str("component", "configsvc").Logger()
	return &l
}

// Database creates a logger for database events
func Database() *zerolog.Logger {
	l := Log.With().Str("component", "database").Logger()
	return &l
}

// HTTP creates a logger for HTTP request events
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Events creates a logger for broker/event-publishing events
func Events() *zerolog.Logger {
	l := Log.With().Str("component", "events").Logger()
	return &l
}
