// control/settings.go
// Author: momentics <momentics@gmail.com>
//
// Settings loading: TOML file, then optional .env files, then HIOLOAD_AIO_*
// environment variables. Zero values mean "use the engine default".

package control

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HIOLOAD_AIO_"

// Duration is a time.Duration that decodes from strings such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings is the file/environment representation of engine configuration.
type Settings struct {
	Facility       string   `toml:"facility"`
	RingEntries    uint     `toml:"ring_entries"`
	Workers        int      `toml:"workers"`
	PinWorkers     bool     `toml:"pin_workers"`
	SQCapacity     int      `toml:"sq_capacity"`
	FullPolicy     string   `toml:"full_policy"`
	EnqueueTimeout Duration `toml:"enqueue_timeout"`
	MaxInFlight    int      `toml:"max_in_flight"`
	Window         int      `toml:"window"`
	Order          string   `toml:"order"`
	MaxDescriptors int      `toml:"max_descriptors"`
	ReadChunkSize  int      `toml:"read_chunk_size"`
	LogLevel       string   `toml:"log_level"`
}

// LoadSettings reads path (skipped when empty), then loads envFiles that
// exist, then applies environment overrides. Variables already present in
// the environment win over .env files.
func LoadSettings(path string, envFiles ...string) (Settings, error) {
	var s Settings
	if path != "" {
		md, err := toml.DecodeFile(path, &s)
		if err != nil {
			return s, fmt.Errorf("settings %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return s, fmt.Errorf("settings %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return s, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("FACILITY", &s.Facility)
	str("FULL_POLICY", &s.FullPolicy)
	str("ORDER", &s.Order)
	str("LOG_LEVEL", &s.LogLevel)
	for name, dst := range map[string]*int{
		"WORKERS":         &s.Workers,
		"SQ_CAPACITY":     &s.SQCapacity,
		"MAX_IN_FLIGHT":   &s.MaxInFlight,
		"WINDOW":          &s.Window,
		"MAX_DESCRIPTORS": &s.MaxDescriptors,
		"READ_CHUNK_SIZE": &s.ReadChunkSize,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvPrefix + "RING_ENTRIES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%sRING_ENTRIES: %w", EnvPrefix, err)
		}
		s.RingEntries = uint(n)
	}
	if v, ok := lookup(EnvPrefix + "PIN_WORKERS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sPIN_WORKERS: %w", EnvPrefix, err)
		}
		s.PinWorkers = b
	}
	if v, ok := lookup(EnvPrefix + "ENQUEUE_TIMEOUT"); ok {
		if err := s.EnqueueTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sENQUEUE_TIMEOUT: %w", EnvPrefix, err)
		}
	}
	return nil
}

// Map flattens the settings into ConfigStore keys.
func (s Settings) Map() map[string]any {
	return map[string]any{
		"facility":        s.Facility,
		"ring_entries":    int(s.RingEntries),
		"workers":         s.Workers,
		"pin_workers":     s.PinWorkers,
		"sq_capacity":     s.SQCapacity,
		"full_policy":     s.FullPolicy,
		"enqueue_timeout": s.EnqueueTimeout.Duration,
		"max_in_flight":   s.MaxInFlight,
		"window":          s.Window,
		"order":           s.Order,
		"max_descriptors": s.MaxDescriptors,
		"read_chunk_size": s.ReadChunkSize,
		"log_level":       s.LogLevel,
	}
}

// ParseLogLevel maps debug/info/warn/error to a slog.Level; empty is info.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
