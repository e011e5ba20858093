// ocean-node is the daemon binary: it loads the environment-driven
// configuration, assembles the node and runs it until interrupted.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/oceanprotocol/ocean-node/config"
	"github.com/oceanprotocol/ocean-node/node"
)

var verbosityFlag = &cli.IntFlag{
	Name:    "verbosity",
	Usage:   "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
	Value:   3,
	EnvVars: []string{"LOG_LEVEL"},
}

var app = &cli.App{
	Name:    "ocean-node",
	Usage:   "decentralized data exchange network node",
	Version: node.Version,
	Flags:   []cli.Flag{verbosityFlag},
	Action:  run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	setDefaultLogger(ctx.Int(verbosityFlag.Name), cfg.LogFile)

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	go handleInterrupt(n)
	n.Wait()
	return nil
}

// setDefaultLogger routes logs to stderr, or to a rotating file when
// LOG_FILE is configured.
func setDefaultLogger(verbosity int, logFile string) {
	var handler slog.Handler
	if logFile != "" {
		var output io.Writer = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 10,
		}
		handler = log.LogfmtHandler(output)
	} else {
		handler = log.NewTerminalHandler(os.Stderr, true)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(log.FromLegacyLevel(verbosity))
	log.SetDefault(log.NewLogger(glogger))
}

func handleInterrupt(n *node.Node) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	<-interrupt
	log.Warn("Shutting down (type CTRL-C again to force quit)")
	go func() {
		if err := n.Stop(); err != nil {
			log.Error("Shutdown failed", "err", err)
			os.Exit(1)
		}
	}()

	<-interrupt
	os.Exit(1)
}
