/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// fileConfig holds the values of a TOML config file, keyed by flag name:
//
//	api-host = "localhost:8080"
//	inbound-host = ["http@localhost:8081", "ws@localhost:8082"]
//	auto-accept = true
type fileConfig struct {
	values map[string]interface{}
	meta   toml.MetaData
}

func loadFileConfig(path string) (*fileConfig, error) {
	values := make(map[string]interface{})

	meta, err := toml.DecodeFile(path, &values)
	if err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logger.Warnf("config file %s: nested keys are ignored: %v", path, undecoded)
	}

	return &fileConfig{values: values, meta: meta}, nil
}

func (c *fileConfig) lookup(key string) (string, bool) {
	if c == nil || !c.meta.IsDefined(key) {
		return "", false
	}

	switch v := c.values[key].(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}

		return strings.Join(items, ","), true
	default:
		return fmt.Sprint(v), true
	}
}

// settings resolves a value from the command line flag, then the environment variable, then the config file.
type settings struct {
	cmd  *cobra.Command
	file *fileConfig
}

func newSettings(cmd *cobra.Command) (*settings, error) {
	s := &settings{cmd: cmd}

	path, err := s.get(configFileFlagName, configFileEnvKey, true)
	if err != nil {
		return nil, err
	}

	if path != "" {
		s.file, err = loadFileConfig(path)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *settings) get(flagName, envKey string, isOptional bool) (string, error) {
	if s.cmd.Flags().Changed(flagName) {
		value, err := s.cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	if value, isSet := os.LookupEnv(envKey); isSet {
		return value, nil
	}

	if value, isSet := s.file.lookup(flagName); isSet {
		return value, nil
	}

	if isOptional {
		return "", nil
	}

	return "", fmt.Errorf("neither %s (command line flag) nor %s (environment variable) have been set",
		flagName, envKey)
}

func (s *settings) getAll(flagName, envKey string, isOptional bool) ([]string, error) {
	if s.cmd.Flags().Changed(flagName) {
		value, err := s.cmd.Flags().GetStringSlice(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)
	if !isSet {
		value, isSet = s.file.lookup(flagName)
	}

	if isSet {
		if value == "" {
			return nil, nil
		}

		return strings.Split(value, ","), nil
	}

	if isOptional {
		return nil, nil
	}

	return nil, fmt.Errorf("%s not set. It must be set via either command line, environment variable or config file",
		flagName)
}

func (s *settings) getBool(flagName, envKey string) (bool, error) {
	v, err := s.get(flagName, envKey, true)
	if err != nil {
		return false, err
	}

	if v == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %w", flagName, err)
	}

	return b, nil
}
