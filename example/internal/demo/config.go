package demo

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// DefaultPort is the port the demo server listens on.
const DefaultPort = 60000

// LogConfig is embedded by both demo configurations.
type LogConfig struct {
	LogFile  string `long:"logfile" description:"Also write logs to this file, rotated at 10 MB"`
	LogLevel string `long:"loglevel" description:"Logging level (debug, info, warn, error)" default:"info"`
}

// ServerConfig configures the demo server.
type ServerConfig struct {
	Port           uint16 `short:"p" long:"port" description:"Port to listen on" default:"60000"`
	MaxConnections int    `long:"maxconnections" description:"Maximum number of simultaneous clients, 0 for no limit" default:"0"`
	LogConfig
}

// ClientConfig configures the demo client.
type ClientConfig struct {
	Host    string `short:"H" long:"host" description:"Server host" default:"127.0.0.1"`
	Port    uint16 `short:"p" long:"port" description:"Server port" default:"60000"`
	Retries int    `long:"retries" description:"Connection attempts before giving up" default:"5"`
	LogConfig
}

// Parse fills cfg from args. It returns ErrHelp after printing usage when
// help was requested.
func Parse(cfg interface{}, args []string) error {
	parser := flags.NewParser(cfg, flags.Default)
	_, err := parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return ErrHelp
		}
		return err
	}
	return nil
}

// ErrHelp is returned by Parse when usage was printed.
var ErrHelp = errors.New("help requested")

// Exit terminates the process for an error returned by Parse.
func Exit(err error) {
	if errors.Is(err, ErrHelp) {
		os.Exit(0)
	}
	os.Exit(1)
}
