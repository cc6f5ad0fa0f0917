package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/unishare/unisync/internal/config"
	"github.com/unishare/unisync/internal/lock"
	"github.com/unishare/unisync/internal/profile"
)

// cmdInit creates the profile, or updates the fields given as flags.
func cmdInit(name string, args []string) {
	fset := flag.NewFlagSet("init", flag.ExitOnError)
	apiURL := fset.String("api-url", "", "UniShare API root, e.g. https://unishare.example/api")
	pushURL := fset.String("push-url", "", "Echo websocket URL including the app key")
	authURL := fset.String("auth-url", "", "channel authorization endpoint (default: <host>/broadcasting/auth)")
	userID := fset.String("user-id", "", "your UniShare user id")
	token := fset.String("token", "", "API bearer token (prefer UNISYNC_TOKEN or the profile .env)")
	makeDefault := fset.Bool("default", false, "make this the default profile")
	_ = fset.Parse(args)

	if err := profile.EnsureDir(name); err != nil {
		fail(err)
	}
	path := profile.ProfilePath(name)
	p, err := config.LoadProfile(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := config.DefaultProfile()
		p = &d
	} else if err != nil {
		fail(err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.APIURL, *apiURL)
	set(&p.PushURL, *pushURL)
	set(&p.AuthURL, *authURL)
	set(&p.UserID, *userID)
	set(&p.Token, *token)

	check := *p
	if err := check.ApplyEnv(profile.EnvPath(name)); err != nil {
		fail(err)
	}
	if err := check.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: profile is not usable yet: %v\n", err)
	}
	if err := config.SaveProfile(path, p); err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s\n", path)

	if *makeDefault {
		setDefault(name)
	}
}

func cmdUse(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: unisyncctl use <profile>")
		os.Exit(1)
	}
	if err := profile.ValidateName(args[0]); err != nil {
		fail(err)
	}
	if _, err := os.Stat(profile.ProfilePath(args[0])); err != nil {
		fail(fmt.Errorf("profile %q has no profile.toml; run init first", args[0]))
	}
	setDefault(args[0])
}

func setDefault(name string) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fail(err)
	}
	cfg.DefaultProfile = name
	if err := config.Save(profile.ConfigPath(), cfg); err != nil {
		fail(err)
	}
	fmt.Printf("default profile is now %q\n", name)
}

type profileInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Default bool   `json:"default"`
}

func cmdProfiles(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(profile.BaseDir(), "profiles"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fail(err)
	}
	def := profile.Resolve("")

	var infos []profileInfo
	for _, e := range entries {
		if !e.IsDir() || profile.ValidateName(e.Name()) != nil {
			continue
		}
		info := profileInfo{Name: e.Name(), Path: profile.Dir(e.Name()), Default: e.Name() == def}
		if h, held, err := lock.Inspect(info.Path); err == nil && held {
			info.Running, info.PID = true, h.PID
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	if jsonOut {
		outputJSON(infos)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, p := range infos {
		state := "stopped"
		if p.Running {
			state = fmt.Sprintf("running, pid %d", p.PID)
		}
		mark := " "
		if p.Default {
			mark = "*"
		}
		fmt.Printf("%s %-20s %s (%s)\n", mark, p.Name, p.Path, state)
	}
}
