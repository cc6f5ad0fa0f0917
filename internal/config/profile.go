package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override profile.toml.
const (
	EnvToken   = "UNISYNC_TOKEN"
	EnvAPIURL  = "UNISYNC_API_URL"
	EnvPushURL = "UNISYNC_PUSH_URL"
	EnvUserID  = "UNISYNC_USER_ID"
)

// Profile represents a per-profile profile.toml: where the UniShare server
// lives, who the user is, and how the sync engine is tuned.
type Profile struct {
	APIURL  string `toml:"api_url"`
	AuthURL string `toml:"auth_url,omitempty"`
	// PushURL is the Echo websocket endpoint including the app key. Empty
	// disables push delivery; the poller still keeps chats fresh.
	PushURL        string `toml:"push_url,omitempty"`
	Token          string `toml:"token,omitempty"`
	UserID         string `toml:"user_id"`
	ChannelPattern string `toml:"channel_pattern,omitempty"`
	EventName      string `toml:"event_name,omitempty"`

	PollInterval        time.Duration `toml:"poll_interval"`
	RequestTimeout      time.Duration `toml:"request_timeout"`
	NearBottomThreshold float64       `toml:"near_bottom_threshold"`
	SettleWindow        time.Duration `toml:"settle_window"`
	WatchAllChats       bool          `toml:"watch_all_chats"`
	CacheDepth          int           `toml:"cache_depth"`
}

// DefaultProfile returns a profile with every tunable set.
func DefaultProfile() Profile {
	return Profile{
		PollInterval:        30 * time.Second,
		RequestTimeout:      15 * time.Second,
		NearBottomThreshold: 120,
		SettleWindow:        time.Second,
		WatchAllChats:       true,
		CacheDepth:          200,
	}
}

// LoadProfile reads a profile.toml on top of the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile writes a profile.toml.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

// ApplyEnv overrides connection settings from the process environment and,
// when present, from the dotenv file at envPath. Process variables win over
// the file.
func (p *Profile) ApplyEnv(envPath string) error {
	fileEnv := map[string]string{}
	if envPath != "" {
		m, err := godotenv.Read(envPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", envPath, err)
		}
		if m != nil {
			fileEnv = m
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	if v, ok := lookup(EnvToken); ok {
		p.Token = v
	}
	if v, ok := lookup(EnvAPIURL); ok {
		p.APIURL = v
	}
	if v, ok := lookup(EnvPushURL); ok {
		p.PushURL = v
	}
	if v, ok := lookup(EnvUserID); ok {
		p.UserID = v
	}
	return nil
}

// Validate reports the first setting that would keep the daemon from
// starting.
func (p *Profile) Validate() error {
	u, err := url.Parse(p.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url %q is not an absolute URL", p.APIURL)
	}
	if p.PushURL != "" {
		pu, err := url.Parse(p.PushURL)
		if err != nil || (pu.Scheme != "ws" && pu.Scheme != "wss") {
			return fmt.Errorf("push_url %q must be a ws:// or wss:// URL", p.PushURL)
		}
	}
	if p.UserID == "" {
		return errors.New("user_id is required")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", p.PollInterval)
	}
	if p.NearBottomThreshold < 0 {
		return fmt.Errorf("near_bottom_threshold must not be negative, got %s",
			strconv.FormatFloat(p.NearBottomThreshold, 'f', -1, 64))
	}
	if p.CacheDepth < 0 {
		return fmt.Errorf("cache_depth must not be negative, got %d", p.CacheDepth)
	}
	return nil
}
