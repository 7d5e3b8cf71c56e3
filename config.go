package wrcgw

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
)

// ErrInvalidConfig is returned by Config.Validate and LoadFileConfig when
// the configuration is structurally sound JSON but semantically invalid.
var ErrInvalidConfig = errors.New("wrcgw: invalid configuration")

// DatabaseConfig names the broker pub/sub endpoints (spec.md §6 calls the
// broker "database" for historical reasons — the field names are part of
// the external JSON contract and are not renamed here).
type DatabaseConfig struct {
	ReaderQueue string `json:"reader_queue"`
	WriterQueue string `json:"writer_queue"`
	ReaderURI   string `json:"reader_uri"`
	WriterURI   string `json:"writer_uri"`
}

// FileConfig is the on-disk JSON configuration loaded from --config.
type FileConfig struct {
	Database DatabaseConfig `json:"database"`
	Port     []string       `json:"port"`
}

// LoadFileConfig reads and validates the JSON file at path.
func LoadFileConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wrcgw: reading config: %w", err)
	}
	var fc FileConfig
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("wrcgw: parsing config: %w", err)
	}
	if fc.Database.ReaderURI == "" || fc.Database.WriterURI == "" {
		return nil, fmt.Errorf("%w: database.reader_uri and writer_uri are required", ErrInvalidConfig)
	}
	if fc.Database.ReaderQueue == "" || fc.Database.WriterQueue == "" {
		return nil, fmt.Errorf("%w: database.reader_queue and writer_queue are required", ErrInvalidConfig)
	}
	if len(fc.Port) == 0 {
		return nil, fmt.Errorf("%w: at least one port must be listed", ErrInvalidConfig)
	}
	return &fc, nil
}

// Allows reports whether name appears in the configured port allow-list.
func (fc *FileConfig) Allows(name string) bool {
	for _, p := range fc.Port {
		if p == name {
			return true
		}
	}
	return false
}

// ParseFlags parses the single --config flag (spec.md §6) and returns the
// resolved path. args is normally os.Args[1:].
func ParseFlags(args []string) (configPath string, err error) {
	fs := flag.NewFlagSet("wrc-gateway", flag.ContinueOnError)
	path := fs.String("config", "./config.json", "path to the JSON configuration file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "wrc-gateway - torque wrench serial-to-broker bridge")
		fmt.Fprintln(fs.Output(), "Usage:")
		fmt.Fprintln(fs.Output(), "  wrc-gateway [-config PATH]")
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}
