package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/model"
)

// Config holds the application configuration
type Config struct {
	Model    ModelConfig    `json:"model"`
	Decoder  DecoderConfig  `json:"decoder"`
	Pipeline PipelineConfig `json:"pipeline"`
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
}

// ModelConfig locates the classifier artifact
type ModelConfig struct {
	Path              string `json:"path"`
	MetadataPath      string `json:"metadata_path"`
	SharedLibraryPath string `json:"shared_library_path"`
	Sessions          int    `json:"sessions"`
}

// DecoderConfig limits what the decoder accepts
type DecoderConfig struct {
	SupportedFormats []string `json:"supported_formats"`
	MaxBytes         int64    `json:"max_bytes"`
	MaxPixels        int64    `json:"max_pixels"`
}

// PipelineConfig tunes the controller
type PipelineConfig struct {
	InferenceTimeout Duration `json:"inference_timeout"`
}

// ServerConfig holds HTTP settings
type ServerConfig struct {
	Addr            string   `json:"addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level"`
}

// Duration is a time.Duration written as "1.5s" in JSON. Plain numbers
// are read as nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with default values
func Default() *Config {
	dec := decode.DefaultConfig()
	return &Config{
		Model: ModelConfig{
			Path:         "models/pets_classifier.onnx",
			MetadataPath: "models/pets_classifier.json",
			Sessions:     1,
		},
		Decoder: DecoderConfig{
			SupportedFormats: dec.SupportedFormats,
			MaxBytes:         dec.MaxBytes,
			MaxPixels:        dec.MaxPixels,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT must be numeric, got %q", port)
		}
		c.Server.Addr = ":" + port
	}
	if v, ok := lookup("MODEL_PATH"); ok && v != "" {
		c.Model.Path = v
	}
	if v, ok := lookup("MODEL_METADATA_PATH"); ok && v != "" {
		c.Model.MetadataPath = v
	}
	if v, ok := lookup("ONNXRUNTIME_LIB"); ok && v != "" {
		c.Model.SharedLibraryPath = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}

	if c.Model.MetadataPath == "" {
		return fmt.Errorf("model.metadata_path is required")
	}

	if c.Model.Sessions < 1 {
		return fmt.Errorf("model.sessions must be positive")
	}

	if len(c.Decoder.SupportedFormats) == 0 {
		return fmt.Errorf("decoder.supported_formats cannot be empty")
	}

	if c.Decoder.MaxBytes <= 0 {
		return fmt.Errorf("decoder.max_bytes must be positive")
	}

	if c.Decoder.MaxPixels <= 0 {
		return fmt.Errorf("decoder.max_pixels must be positive")
	}

	if c.Pipeline.InferenceTimeout < 0 {
		return fmt.Errorf("pipeline.inference_timeout cannot be negative")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	return nil
}

// ModelLoadConfig converts the model section for model.Load.
func (c *Config) ModelLoadConfig() model.Config {
	return model.Config{
		ModelPath:         c.Model.Path,
		MetadataPath:      c.Model.MetadataPath,
		SharedLibraryPath: c.Model.SharedLibraryPath,
		Sessions:          c.Model.Sessions,
	}
}

// DecodeConfig converts the decoder section for decode.NewWithConfig.
func (c *Config) DecodeConfig() decode.Config {
	return decode.Config{
		SupportedFormats: c.Decoder.SupportedFormats,
		MaxBytes:         c.Decoder.MaxBytes,
		MaxPixels:        c.Decoder.MaxPixels,
	}
}
