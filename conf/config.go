/*
 * Copyright 2019 The CacheFarm Authors.
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

// Package conf holds the yaml configuration of a cachefarm server.
package conf

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/cachefarm/cachefarm/proto"
)

// Config holds all the config read from the yaml config file.
type Config struct {
	// ThisServerID is the opaque identity of this server in the farm. It tags
	// every row this server appends and is matched against row origins while
	// tailing. Must be unique within the farm.
	ThisServerID proto.ServerID `yaml:"ThisServerID"`
	// Role determines pruning authority. Defaults to Single.
	Role proto.ServerRole `yaml:"Role"`

	// DatabaseFile is the sqlite3 file holding the shared instruction log.
	DatabaseFile string `yaml:"DatabaseFile"`
	// CursorFile persists this server's sync cursor across restarts.
	// Defaults to DatabaseFile + ".cursor".
	CursorFile string `yaml:"CursorFile"`
	// ListenAddr is the status/metrics API listen address.
	ListenAddr string `yaml:"ListenAddr"`
	// LogLevel is the logrus level literal, defaults to info.
	LogLevel string `yaml:"LogLevel"`

	// MaxProcessingInstructionCount is the backlog ceiling that triggers a
	// cold boot instead of replay, and the chunk size of batched delivery.
	MaxProcessingInstructionCount int `yaml:"MaxProcessingInstructionCount"`
	// SyncInterval is the tailing period of the scheduler.
	SyncInterval time.Duration `yaml:"SyncInterval"`
	// TimeBetweenPruneOperations is the minimum interval between prunes.
	TimeBetweenPruneOperations time.Duration `yaml:"TimeBetweenPruneOperations"`
	// TimeToRetainInstructions is the prune retention window.
	TimeToRetainInstructions time.Duration `yaml:"TimeToRetainInstructions"`
}

// GConf is the global config pointer.
var GConf *Config

// ErrIncompleteConfig represents a config missing required fields.
var ErrIncompleteConfig = errors.New("incomplete config")

// LoadConfig loads config from configPath and applies defaults.
func LoadConfig(configPath string) (config *Config, err error) {
	var configBytes []byte
	if configBytes, err = ioutil.ReadFile(configPath); err != nil {
		err = errors.Wrap(err, "read config file failed")
		return
	}

	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		config = nil
		err = errors.Wrap(err, "unmarshal config file failed")
		return
	}

	if config.ThisServerID.IsEmpty() {
		config = nil
		err = errors.Wrap(ErrIncompleteConfig, "ThisServerID is required")
		return
	}
	if config.DatabaseFile == "" {
		config = nil
		err = errors.Wrap(ErrIncompleteConfig, "DatabaseFile is required")
		return
	}

	config.applyDefaults()
	return
}

func (c *Config) applyDefaults() {
	if c.Role == proto.Unknown {
		c.Role = proto.Single
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CursorFile == "" {
		c.CursorFile = c.DatabaseFile + ".cursor"
	}
	if c.MaxProcessingInstructionCount <= 0 {
		c.MaxProcessingInstructionCount = DefaultMaxProcessingInstructionCount
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.TimeBetweenPruneOperations <= 0 {
		c.TimeBetweenPruneOperations = DefaultTimeBetweenPruneOperations
	}
	if c.TimeToRetainInstructions <= 0 {
		c.TimeToRetainInstructions = DefaultTimeToRetainInstructions
	}
}
