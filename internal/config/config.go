// Package config loads a clickstream.Config from, in increasing precedence,
// built-in defaults, a YAML or JSON file, CLICKSTREAM_ environment variables
// and command line flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"

	"github.com/birdayz/clickstream"
)

const EnvPrefix = "CLICKSTREAM_"

// Flags registers every Config option on a new flag set. Binaries may add
// their own flags before calling Load.
func Flags(name string, defaults clickstream.Config) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)

	f.String("config", "", "path to a yaml or json config file")
	f.StringSlice("brokers", defaults.Brokers, "kafka seed brokers")
	f.String("input-topic", defaults.InputTopic, "topic to read events from")
	f.String("output-topic", defaults.OutputTopic, "topic to write results to")
	f.Int32("partition", defaults.Partition, "input partition")
	f.Int64("session-length", defaults.SessionLengthMs, "inactivity gap in milliseconds that closes a session")
	f.String("start", defaults.Start, "start position: earliest, latest or resume")
	f.String("checkpoint", defaults.CheckpointPath, "checkpoint file, required to resume")
	f.String("combine", defaults.Combine, "aggregator combine operator: sum, min, max or product")
	f.Int("state-bound", defaults.StateBound, "maximum number of keys in state, 0 is unbounded")
	f.String("on-transport-error", defaults.OnTransportError, "fail or skip")
	f.Duration("record-timeout", defaults.RecordProcessTimeout, "per-record processing timeout")
	f.Duration("flush-timeout", defaults.FlushTimeout, "output flush timeout on shutdown")
	f.Duration("shutdown-timeout", defaults.ShutdownTimeout, "time Close waits for the loop to stop")
	f.String("metrics-addr", defaults.MetricsAddr, "serve prometheus metrics on this address")
	return f
}

// Load parses args into f and returns the merged, validated configuration.
func Load(f *flag.FlagSet, args []string, defaults clickstream.Config) (clickstream.Config, error) {
	if err := f.Parse(args); err != nil {
		return clickstream.Config{}, err
	}

	ko := koanf.New(".")

	if path, _ := f.GetString("config"); path != "" {
		var parser koanf.Parser
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return clickstream.Config{}, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
		}
		if err := ko.Load(file.Provider(path), parser); err != nil {
			return clickstream.Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := ko.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return clickstream.Config{}, fmt.Errorf("read environment: %w", err)
	}

	// Unchanged flags only fill keys no file or variable set.
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return clickstream.Config{}, fmt.Errorf("read flags: %w", err)
	}

	cfg := defaults
	if err := ko.Unmarshal("", &cfg); err != nil {
		return clickstream.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return clickstream.Config{}, err
	}
	return cfg, nil
}

// envKey maps CLICKSTREAM_INPUT_TOPIC to input-topic. Brokers are comma
// separated.
func envKey(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", "-")
	if key == "brokers" {
		return key, strings.Split(value, ",")
	}
	return key, value
}
