package main

import (
	"flag"
	_log "log"
	"os"
	"os/user"
	"path/filepath"

	"github.com/caddyserver/certmagic"
	"github.com/spearlab/phishtrack/core"
	"github.com/spearlab/phishtrack/database"
	"github.com/spearlab/phishtrack/log"
	"go.uber.org/zap"
)

var debug_log = flag.Bool("debug", false, "Enable debug output")
var developer_mode = flag.Bool("developer", false, "Enable developer mode (serves plain HTTP instead of managed TLS)")
var cfg_dir = flag.String("c", "", "Configuration directory path")
var version_flag = flag.Bool("v", false, "Show version")

func main() {
	flag.Parse()

	if *version_flag == true {
		log.Info("version: %s", core.VERSION)
		return
	}

	core.Banner()

	_log.SetOutput(log.NullLogger().Writer())
	certmagic.Default.Logger = zap.NewNop()
	certmagic.DefaultACME.Logger = zap.NewNop()

	log.DebugEnable(*debug_log)
	if *debug_log {
		log.Info("debug output enabled")
	}

	if *cfg_dir == "" {
		usr, err := user.Current()
		if err != nil {
			log.Fatal("%v", err)
			return
		}
		*cfg_dir = filepath.Join(usr.HomeDir, ".phishtrack")
	}

	log.Info("loading configuration from: %s", *cfg_dir)

	err := os.MkdirAll(*cfg_dir, os.FileMode(0700))
	if err != nil {
		log.Fatal("%v", err)
		return
	}

	cfg, err := core.NewConfig(*cfg_dir, "")
	if err != nil {
		log.Fatal("config: %v", err)
		return
	}
	if *developer_mode {
		cfg.EnableAutocert(false)
	}

	db, err := database.NewDatabase(filepath.Join(*cfg_dir, "data.db"))
	if err != nil {
		log.Fatal("database: %v", err)
		return
	}

	events, err := core.NewEventLogger(filepath.Join(*cfg_dir, "events"))
	if err != nil {
		log.Fatal("event log: %v", err)
		return
	}
	defer events.Close()

	codec, err := core.NewTokenCodec(cfg.GetSigningKeys(), cfg.GetTokenLifetime())
	if err != nil {
		log.Fatal("token codec: %v", err)
		return
	}

	policy, err := core.NewDispatchPolicy(cfg.GetDispatchMode(), cfg.GetScenarios())
	if err != nil {
		log.Fatal("dispatch policy: %v", err)
		return
	}

	notifier := core.NewTrainingNotifier(cfg)
	engine := core.NewTrackEngine(db, policy, notifier, events, cfg.GetIPHashSalt())

	gateway := core.NewGateway(cfg, codec, engine)
	if err := gateway.Start(); err != nil {
		log.Fatal("gateway: %v", err)
		return
	}

	internalAPI := core.NewInternalAPI(cfg, db, codec, engine, gateway)
	if err := internalAPI.Start(); err != nil {
		log.Warning("internal API: failed to start: %v", err)
	} else {
		log.Info("internal API started on port %d (HTTP, localhost only)", cfg.GetInternalAPIPort())
	}

	t, err := core.NewTerminal(cfg, db, codec, engine, gateway)
	if err != nil {
		log.Fatal("%v", err)
		return
	}

	t.DoWork()
	gateway.Stop()
	internalAPI.Stop()
	db.Flush()
	db.Close()
}
