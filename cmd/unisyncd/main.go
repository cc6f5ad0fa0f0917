package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unishare/unisync/internal/daemon"
	"github.com/unishare/unisync/internal/logging"
	"github.com/unishare/unisync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	debugFlag := flag.Bool("debug", false, "log at debug level and panic on broken invariants")
	quietFlag := flag.Bool("quiet", false, "log to the profile log file only")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	opts := logging.Options{Level: zapcore.InfoLevel, Quiet: *quietFlag}
	if *debugFlag {
		opts.Level = zapcore.DebugLevel
		opts.Development = true
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Log: opts}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	)

	app.Run()
}
