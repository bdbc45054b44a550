package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "path to config file")
	flagDebug      = flag.Bool("debug", false, "enable debug logging")
	flagLDraw      = flag.String("ldraw", "", "path to the LDraw library root")
	flagResolution = flag.String("resolution", "", "primitive resolution: standard, hires or lores")
	flagSeam       = flag.Float64("seam", -1, "seam width between parts (0 disables)")
	flagNoHost     = flag.Bool("no-host-transform", false, "keep LDraw axes and units")
	flagNoSmooth   = flag.Bool("no-smooth", false, "disable smoothing of curved primitives")
	flagNoLights   = flag.Bool("no-lights", false, "do not convert light.dat references to lights")
)

// ParseFlags parses command-line flags. Call before Load.
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the config file path given on the command line, if any.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags overrides config values with any flags that were set.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLDraw != "" {
		cfg.LDraw.Root = *flagLDraw
	}
	if *flagResolution != "" {
		cfg.Import.Resolution = *flagResolution
	}
	if *flagSeam >= 0 {
		cfg.Import.SeamWidth = float32(*flagSeam)
	}
	if *flagNoHost {
		cfg.Import.TransformToHost = false
	}
	if *flagNoSmooth {
		cfg.Import.SmoothPrimitives = false
	}
	if *flagNoLights {
		cfg.Import.LightsFromModel = false
	}
}
