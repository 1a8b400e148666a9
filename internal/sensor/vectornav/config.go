package vectornav

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPort = "/dev/ttyUSB0"
	DefaultBaud = 115200
)

var validBaudRates = map[int]struct{}{
	9600:   {},
	19200:  {},
	38400:  {},
	57600:  {},
	115200: {},
	230400: {},
	460800: {},
	921600: {},
}

// Config is the `vnstream` tool configuration. The tool attaches to the
// VectorNav unit over serial and relays its ASCII output registers.
type Config struct {
	Port string `yaml:"port" json:"port"` // serial port (default: /dev/ttyUSB0)
	Baud int    `yaml:"baud" json:"baud"` // baud rate (default: 115200)
}

func (c *Config) Validate() error {
	if c.Baud != 0 {
		if _, ok := validBaudRates[c.Baud]; !ok {
			return fmt.Errorf("vectornav.Config: invalid baud rate: %d", c.Baud)
		}
	}
	return nil
}

// Args returns the command line arguments for `vnstream`
func (c *Config) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	port := c.Port
	if port == "" {
		port = DefaultPort
	}

	baud := c.Baud
	if baud == 0 {
		baud = DefaultBaud
	}

	return []string{"-p", port, "-b", strconv.Itoa(baud)}, nil
}

func (c *Config) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("vectornav.Config: failed to build args: %s", err)
	}
	return fmt.Sprintf("%s %s", Runtime, strings.Join(args, " "))
}
