// Package configs for work with configurations
package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFeedURL of the podcast shown when nothing is configured
const DefaultFeedURL = "https://rss.buzzsprout.com/793019.rss"

// Conf for config yaml
type Conf struct {
	Feed struct {
		RSS     string        `yaml:"rss"`
		API     string        `yaml:"api"`
		Folder  string        `yaml:"folder"`
		Title   string        `yaml:"title"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"feed"`
	Player struct {
		MPV          string  `yaml:"mpv"`
		SocketDir    string  `yaml:"socket_dir"`
		Threshold    float64 `yaml:"threshold"`
		Volume       float64 `yaml:"volume"`
		KeySkip      float64 `yaml:"key_skip"`
		ButtonSkip   float64 `yaml:"button_skip"`
		MarkOnSelect bool    `yaml:"mark_on_select"`
	} `yaml:"player"`
	View struct {
		PageSize       int           `yaml:"page_size"`
		RecentLimit    int           `yaml:"recent_limit"`
		ShowPlayed     bool          `yaml:"show_played"`
		ScrollDebounce time.Duration `yaml:"scroll_debounce"`
		Keywords       []string      `yaml:"keywords"`
	} `yaml:"view"`
	Store struct {
		Type string `yaml:"type"`
		Path string `yaml:"path"`
	} `yaml:"store"`
	Server struct {
		Listen   string        `yaml:"listen"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"server"`
	LogFile string `yaml:"log_file"`
}

// Default config, used as base for Load
func Default() *Conf {
	res := &Conf{}
	res.Feed.RSS = DefaultFeedURL
	res.Feed.Timeout = 30 * time.Second
	res.Player.MPV = "mpv"
	res.Player.Threshold = 0.95
	res.Player.Volume = 1
	res.Player.KeySkip = 10
	res.Player.ButtonSkip = 15
	res.View.PageSize = 10
	res.View.RecentLimit = 5
	res.View.ScrollDebounce = 300 * time.Millisecond
	res.Store.Type = "bolt"
	res.Store.Path = "var/podplay.bdb"
	res.Server.CacheTTL = 5 * time.Minute
	res.LogFile = "var/podplay.log"
	return res
}

// Load config from file, missing fields keep defaults
func Load(fileName string) (res *Conf, err error) {
	res = Default()
	data, err := os.ReadFile(fileName) // nolint
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyEnv reads optional env files into the environment and overrides config fields
// with PODPLAY_* variables
func (c *Conf) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("can't load env file %s: %w", f, err)
		}
	}

	str := map[string]*string{
		"PODPLAY_FEED_URL": &c.Feed.RSS,
		"PODPLAY_API_URL":  &c.Feed.API,
		"PODPLAY_FOLDER":   &c.Feed.Folder,
		"PODPLAY_MPV":      &c.Player.MPV,
		"PODPLAY_STORE":    &c.Store.Type,
		"PODPLAY_DB":       &c.Store.Path,
		"PODPLAY_LISTEN":   &c.Server.Listen,
	}
	for name, field := range str {
		if v, ok := os.LookupEnv(name); ok {
			*field = v
		}
	}

	if v, ok := os.LookupEnv("PODPLAY_PAGE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PODPLAY_PAGE_SIZE %q: %w", v, err)
		}
		c.View.PageSize = n
	}
	return nil
}

// Validate checks values which can't be defaulted silently
func (c *Conf) Validate() error {
	if c.Store.Type != "bolt" && c.Store.Type != "sqlite" {
		return fmt.Errorf("unknown store type %q, expected bolt or sqlite", c.Store.Type)
	}
	if c.Player.Threshold <= 0 || c.Player.Threshold > 1 {
		return fmt.Errorf("completion threshold %v out of (0,1]", c.Player.Threshold)
	}
	if c.View.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.View.PageSize)
	}
	if c.Feed.RSS == "" && c.Feed.API == "" && c.Feed.Folder == "" {
		return errors.New("no podcast source, set feed.rss, feed.api or feed.folder")
	}
	return nil
}
