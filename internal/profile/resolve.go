package profile

import (
	"os"

	"github.com/unishare/unisync/internal/config"
)

const DefaultName = "main"

// ProfileEnv selects the profile when no flag is given.
const ProfileEnv = "UNISYNC_PROFILE"

// Resolve picks the active profile name: the --profile flag, then
// $UNISYNC_PROFILE, then default_profile in config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(ProfileEnv); name != "" {
		return name
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
