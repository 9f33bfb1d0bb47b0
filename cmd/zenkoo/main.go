package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nhle/zenkoo/internal/app"
	"github.com/nhle/zenkoo/internal/credential"
	"github.com/nhle/zenkoo/internal/live"
	"github.com/nhle/zenkoo/internal/model"
	"github.com/nhle/zenkoo/internal/session"
	"github.com/nhle/zenkoo/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], openKeyring))
}

func openKeyring() (credential.Store, error) {
	return credential.Open()
}

// run holds the program so that deferred cleanup happens before the exit
// code is returned.
func run(args []string, openTokens func() (credential.Store, error)) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("reading .env: %v", err)
	}

	fs := pflag.NewFlagSet("zenkoo", pflag.ExitOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	headless := fs.Bool("headless", false, "stream notifications to the log instead of starting the UI")
	logFile := fs.String("log-file", "", "log file used while the UI runs (default: next to the cache)")
	initConfig := fs.Bool("init-config", false, "write the effective config to --config and exit")
	fs.String("api", "", "REST backend base URL")
	fs.String("ws", "", "push endpoint base URL")
	fs.Int("page-size", 0, "notifications per drawer page")
	_ = fs.Parse(args)

	v := model.NewViper()
	for flagName, key := range map[string]string{
		"api":       "server.api_base_url",
		"ws":        "server.ws_base_url",
		"page-size": "inbox.page_size",
	} {
		if f := fs.Lookup(flagName); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				log.Printf("binding flag --%s: %v", flagName, err)
				return 1
			}
		}
	}

	cfg, err := model.LoadConfigWith(v, *configPath)
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}

	if *initConfig {
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			log.Printf("saving config: %v", err)
			return 1
		}
		fmt.Printf("Wrote %s\n", *configPath)
		return 0
	}

	tokens, err := openTokens()
	if err != nil {
		log.Printf("opening keyring: %v", err)
		return 1
	}

	var cache store.Store
	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
		log.Printf("WARN: cache disabled: %v", err)
	} else if s, err := store.NewSQLiteStore(cfg.CachePath); err != nil {
		log.Printf("WARN: cache disabled: %v", err)
	} else {
		cache = s
		defer s.Close()
	}

	rt := app.NewRuntime(cfg, tokens, cache, nil)
	rt.ConfigPath = *configPath
	defer rt.Close()

	if *headless {
		if err := runHeadless(rt); err != nil {
			log.Printf("headless: %v", err)
			return 1
		}
		return 0
	}

	if *logFile == "" {
		*logFile = filepath.Join(filepath.Dir(cfg.CachePath), "zenkoo.log")
	}
	f, err := tea.LogToFile(*logFile, "zenkoo")
	if err != nil {
		log.Printf("opening log file: %v", err)
		return 1
	}
	defer f.Close()

	p := tea.NewProgram(app.New(rt), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Printf("running UI: %v", err)
		return 1
	}
	return 0
}

// runHeadless restores or creates a session and logs every push event,
// connection change and counter change until interrupted.
func runHeadless(rt *app.Runtime) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	user, err := rt.Restore(ctx)
	if errors.Is(err, session.ErrNoSession) {
		email, password := os.Getenv("ZENKOO_EMAIL"), os.Getenv("ZENKOO_PASSWORD")
		if email == "" || password == "" {
			cancel()
			return errors.New("not logged in; set ZENKOO_EMAIL and ZENKOO_PASSWORD or log in through the UI")
		}
		user, err = rt.Login(ctx, email, password)
	}
	cancel()
	if err != nil {
		return err
	}
	log.Printf("Logged in as %s (user %s)", user.DisplayName(), user.ID)

	sub := rt.Dispatcher.Hub().Subscribe()
	defer sub.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lastCount := -1
	for {
		select {
		case <-quit:
			log.Println("Shutting down...")
			return nil

		case n := <-sub.C():
			tag := ""
			if n.Category != "" {
				tag = "[" + n.Category + "] "
			}
			log.Printf("Notification %s: %s%s", n.ID, tag, n.Message)

		case st := <-rt.Live.Updates():
			logStatus(st)

		case <-rt.Changes():
			if c := rt.Counter.Value(); c != lastCount {
				lastCount = c
				log.Printf("Unread: %d", c)
			}
		}
	}
}

func logStatus(st live.Status) {
	switch st.State {
	case live.StateReconnecting:
		log.Printf("Live connection %s in %s (attempt %d): %v", st.State, st.Backoff, st.Attempts, st.Err)
	case live.StateClosed:
		log.Printf("Live connection closed (code %d)", st.CloseCode)
	default:
		log.Printf("Live connection %s", st.State)
	}
}
