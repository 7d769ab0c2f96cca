package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gdamore/tcell/v2"
	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"podplay/internal/app/podplay"
	"podplay/internal/app/podplay/feed"
	"podplay/internal/app/podplay/player/mpv"
	"podplay/internal/app/podplay/server"
	"podplay/internal/app/podplay/storage"
	"podplay/internal/app/podplay/tui"
	"podplay/internal/configs"
)

var opts struct {
	Conf   string `short:"c" long:"conf" env:"PODPLAY_CONF" default:"podplay.yml" description:"config file (yml)"`
	DB     string `short:"d" long:"db" description:"played state file, overrides store.path"`
	Store  string `long:"store" choice:"bolt" choice:"sqlite" description:"played state store type"`
	Feed   string `long:"feed" description:"podcast rss feed url"`
	API    string `long:"api" description:"base url of a podplay server, used instead of rss"`
	Folder string `long:"folder" description:"local folder with audio files, used instead of rss"`
	Serve  string `long:"serve" description:"serve /api/podcast on this address instead of running the player"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"show debug info"`
}

func checkFileExists(filepath string) bool {
	if _, err := os.Stat(filepath); errors.Is(err, os.ErrNotExist) {
		return false
	}

	return true
}

func main() {
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		p.WriteHelp(os.Stderr)
		os.Exit(2)
	}

	conf, err := loadConfig()
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	serve := conf.Server.Listen != ""
	if err := setupLog(opts.Dbg, serve, conf.LogFile); err != nil {
		fmt.Printf("can't setup log, %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source := podplay.NewSource(conf, log.Default())
	if serve {
		log.Printf("[INFO] serve podcast on %s", conf.Server.Listen)
		if err := server.New(source, conf.Server.CacheTTL, log.Default()).Run(ctx, conf.Server.Listen); err != nil {
			log.Fatalf("[ERROR] server failed, %v", err)
		}
		return
	}

	if err := runPlayer(ctx, conf, source); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

// loadConfig reads config file if present, then .env and PODPLAY_* variables, then command line
func loadConfig() (*configs.Conf, error) {
	configFile := opts.Conf
	if !checkFileExists(configFile) {
		configFile = "configs/podplay.yml"
	}

	conf := configs.Default()
	if checkFileExists(configFile) {
		var err error
		if conf, err = configs.Load(configFile); err != nil {
			return nil, fmt.Errorf("can't load config %s, %w", configFile, err)
		}
	}

	if err := conf.ApplyEnv(".env"); err != nil {
		return nil, err
	}

	if opts.DB != "" {
		conf.Store.Path = opts.DB
	}
	if opts.Store != "" {
		conf.Store.Type = opts.Store
	}
	if opts.Feed != "" {
		conf.Feed.RSS = opts.Feed
	}
	if opts.API != "" {
		conf.Feed.API = opts.API
	}
	if opts.Folder != "" {
		conf.Feed.Folder = opts.Folder
	}
	if opts.Serve != "" {
		conf.Server.Listen = opts.Serve
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("bad config, %w", err)
	}
	return conf, nil
}

// setupLog sends log to file while the terminal ui owns the screen
func setupLog(dbg, serve bool, logFile string) error {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if dbg {
		logOpts = []log.Option{log.Debug, log.CallerFile, log.Msec, log.LevelBraces}
	}

	if !serve {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
			return err
		}
		fh, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // nolint
		if err != nil {
			return err
		}
		logOpts = append(logOpts, log.Out(fh), log.Err(fh))
	}

	log.Setup(logOpts...)
	return nil
}

func runPlayer(ctx context.Context, conf *configs.Conf, source feed.Source) error {
	kv, err := storage.Open(conf.Store.Type, conf.Store.Path)
	if err != nil {
		return fmt.Errorf("can't open %s store, %w", conf.Store.Type, err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Printf("[WARN] can't close store, %v", err)
		}
	}()

	transport := &mpv.Transport{Binary: conf.Player.MPV, SocketDir: conf.Player.SocketDir, Log: log.Default()}
	app, err := podplay.NewApplication(conf, podplay.Deps{Source: source, KV: kv, Transport: transport, Log: log.Default()})
	if err != nil {
		return fmt.Errorf("can't create app, %w", err)
	}
	defer app.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("can't open terminal, %w", err)
	}
	log.Printf("[INFO] podplay started, store %s at %s", conf.Store.Type, conf.Store.Path)
	return tui.New(app, screen, conf.Player.ButtonSkip, log.Default()).Run(ctx)
}
