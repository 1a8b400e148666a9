package ublox

import (
	"fmt"
	"strconv"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 2947
)

// Config is the gpsd connection configuration. The receiver itself is
// managed by gpsd; this tool only attaches to its NMEA feed.
type Config struct {
	Host string `yaml:"host" json:"host"` // gpsd host (default: localhost)
	Port int    `yaml:"port" json:"port"` // gpsd port (default: 2947)
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("ublox.Config: invalid port: %d", c.Port)
	}
	return nil
}

// Args returns the command line arguments for `gpspipe`
func (c *Config) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	host := c.Host
	if host == "" {
		host = DefaultHost
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
	}

	// -r dumps raw NMEA sentences to stdout
	return []string{"-r", host + ":" + strconv.Itoa(port)}, nil
}

func (c *Config) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("ublox.Config: failed to build args: %s", err)
	}
	return Runtime + " " + args[0] + " " + args[1]
}
