// Package config handles importer configuration loading and management.
package config

// Config holds all importer settings.
type Config struct {
	LDraw   LDrawConfig   `yaml:"ldraw"`
	Import  ImportConfig  `yaml:"import"`
	Logging LoggingConfig `yaml:"logging"`
}

// LDrawConfig locates the LDraw part library on disk.
type LDrawConfig struct {
	Root string `yaml:"root"` // install dir containing parts/, p/, models/
}

// ImportConfig holds the per-import options.
type ImportConfig struct {
	Resolution       string  `yaml:"resolution"` // standard, hires or lores
	TransformToHost  bool    `yaml:"transform_to_host"`
	SmoothPrimitives bool    `yaml:"smooth_primitives"`
	LightsFromModel  bool    `yaml:"lights_from_model"`
	SeamWidth        float32 `yaml:"seam_width"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LDraw: LDrawConfig{
			Root: defaultLDrawRoot(),
		},
		Import: ImportConfig{
			Resolution:       "standard",
			TransformToHost:  true,
			SmoothPrimitives: true,
			LightsFromModel:  true,
			SeamWidth:        0.001,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
