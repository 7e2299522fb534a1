package scheddb

import (
	"departures.sydneytransit.org/internal/appconf"
)

// Config holds the options for opening an offline schedule database.
type Config struct {
	DBPath  string
	Env     appconf.Environment
	verbose bool
}

// NewConfig creates a new Config with the provided options.
func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}
