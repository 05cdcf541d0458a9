/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides JSON structured logging using zerolog
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var errNoLogFile = errors.New("file output requires file.path")

// New builds a Logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output, err := Writer(cfg)
	if err != nil {
		return nil, err
	}

	level, err := Level(cfg)
	if err != nil {
		return nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &zeroLogger{logger: zlog}, nil
}

// Level resolves the effective level. Debug wins over Level.
func Level(cfg *Config) (zerolog.Level, error) {
	if cfg.Debug {
		return zerolog.DebugLevel, nil
	}

	if cfg.Level == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	return level, nil
}

// Writer returns the destination selected by cfg.Output.
func Writer(cfg *Config) (io.Writer, error) {
	switch cfg.Output {
	case OutputStderr:
		return os.Stderr, nil
	case OutputFile:
		if cfg.File.Path == "" {
			return nil, errNoLogFile
		}

		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}, nil
	default:
		return os.Stdout, nil
	}
}
