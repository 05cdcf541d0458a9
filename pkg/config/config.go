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

// Package config loads JSON configuration files and watches them for changes.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
)

var (
	errInvalidConfigPtr = errors.New("config must be a non-nil pointer")
	errTrailingData     = errors.New("trailing data after config object")
)

// Validator is implemented by config structs that default and check themselves after load.
type Validator interface {
	Validate() error
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadFile decodes the JSON file at path into dst.
func LoadFile(_ context.Context, path string, dst interface{}) error {
	if dst == nil || reflect.ValueOf(dst).Kind() != reflect.Ptr || reflect.ValueOf(dst).IsNil() {
		return errInvalidConfigPtr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	return Decode(data, dst)
}

// Decode strictly decodes one JSON object: unknown fields and trailing data are rejected.
func Decode(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if dec.More() {
		return errTrailingData
	}

	return nil
}

// LoadAndValidate loads path into cfg and validates it.
func LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if err := LoadFile(ctx, path, cfg); err != nil {
		return err
	}

	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration in '%s': %w", path, err)
	}

	return nil
}
