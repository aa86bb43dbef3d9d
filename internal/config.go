package internal

import (
	"fmt"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/qrhub/internal/encoder"
	"github.com/starford/qrhub/internal/history"
	"github.com/starford/qrhub/internal/storage"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	History HistoryConfig     `yaml:"history"`
	QR      QRConfig          `yaml:"qr"`
	Events  EventsConfig      `yaml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	err := validation.Validate(c.History.ImportDir, validation.By(c.distinctImportDir))
	if err != nil {
		return fmt.Errorf("history: import_dir: %w", err)
	}
	if err := c.QR.Validate(); err != nil {
		return fmt.Errorf("qr: %w", err)
	}
	return c.Events.Validate()
}

// distinctImportDir rejects an import directory that is also the file
// storage root: history writes would land there and be imported again.
func (c *Config) distinctImportDir(value any) error {
	dir, _ := value.(string)
	if dir == "" || c.Storage.Driver != storage.DriverFile {
		return nil
	}
	if samePath(dir, c.Storage.Path) {
		return errors.New("must differ from storage.path")
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects the key-value backend behind history and preferences.
//
// Driver "file" keeps one JSON file per key under Path (a directory);
// driver "sqlite" keeps a single table in the database file at Path.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(storage.DriverFile, storage.DriverSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// HistoryConfig holds history persistence settings.
type HistoryConfig struct {
	Key       string `yaml:"key"`
	ImportDir string `yaml:"import_dir"`
}

// Validate validates the history configuration.
func (c *HistoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Key, validation.Required, validation.Match(regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`))),
	)
}

// QRConfig holds rendering options for generated images.
type QRConfig struct {
	Width      int    `yaml:"width"`
	Margin     int    `yaml:"margin"`
	DarkColor  string `yaml:"dark_color"`
	LightColor string `yaml:"light_color"`
	Recovery   string `yaml:"recovery"`
}

// Validate validates the QR configuration.
func (c *QRConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Width, validation.Required, validation.Min(64), validation.Max(4096)),
		validation.Field(&c.Margin, validation.Min(0), validation.Max(16)),
		validation.Field(&c.DarkColor, validation.Required, validation.Match(hexColor)),
		validation.Field(&c.LightColor, validation.Required, validation.Match(hexColor)),
		validation.Field(&c.Recovery, validation.Required, validation.In(
			encoder.RecoveryLow, encoder.RecoveryMedium, encoder.RecoveryQuartile, encoder.RecoveryHighest)),
	)
}

// Options converts the section into encoder options.
func (c *QRConfig) Options() encoder.Options {
	return encoder.Options{
		Width:      c.Width,
		Margin:     c.Margin,
		DarkColor:  c.DarkColor,
		LightColor: c.LightColor,
		Recovery:   c.Recovery,
	}
}

// EventsConfig holds SSE settings.
type EventsConfig struct {
	Throttle time.Duration `yaml:"throttle"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Throttle, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	qr := encoder.DefaultOptions()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Driver: storage.DriverFile,
			Path:   "./data",
		},
		History: HistoryConfig{
			Key: history.DefaultKey,
		},
		QR: QRConfig{
			Width:      qr.Width,
			Margin:     qr.Margin,
			DarkColor:  qr.DarkColor,
			LightColor: qr.LightColor,
			Recovery:   qr.Recovery,
		},
		Events: EventsConfig{
			Throttle: 2 * time.Second,
		},
	}
}
