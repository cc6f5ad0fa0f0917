package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/unishare/unisync/internal/api"
	"github.com/unishare/unisync/internal/profile"
	"github.com/unishare/unisync/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := profile.SocketPath(name)

	// Probe daemon health; auto-start if needed.
	st := pingDaemon(socketPath)
	if st == nil {
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if st = waitForDaemon(socketPath, 10*time.Second); st == nil {
			fmt.Fprintf(os.Stderr, "daemon did not become ready; see %s\n", profile.LogPath(name))
			os.Exit(1)
		}
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, name, st.UserID)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// pingDaemon returns the daemon status, or nil when nothing answers on
// the socket.
func pingDaemon(socketPath string) *api.Status {
	c, err := api.Dial(socketPath)
	if err != nil {
		return nil
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return nil
	}
	return st
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	unisyncd := filepath.Join(filepath.Dir(executable), "unisyncd")

	if _, err := os.Stat(unisyncd); err != nil {
		unisyncd = "unisyncd"
	}

	cmd := exec.Command(unisyncd, "--profile", name, "--quiet")
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls with a real status call, not just a socket connect.
func waitForDaemon(socketPath string, timeout time.Duration) *api.Status {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := pingDaemon(socketPath); st != nil {
			return st
		}
		time.Sleep(300 * time.Millisecond)
	}
	return nil
}
