package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	StorageMemory = "memory"
	StorageAzure  = "azure"
)

// Storage selects and locates the placement store and repair queue.
type Storage struct {
	Backend          string
	ConnectionString string
	PlacementsTable  string
	RepairQueue      string
}

// Redis configures the snapshot cache, deduper and change channel. An empty
// URL disables all three.
type Redis struct {
	URL            string
	SnapshotTTL    time.Duration
	DeduperTTL     time.Duration
	ChangesChannel string
}

// Auth configures JWT validation.
type Auth struct {
	Domain       string
	Audience     string
	SharedSecret string
	KeyCacheTTL  time.Duration
}

// Repair sizes the asynchronous repair sender.
type Repair struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

// Server holds the settings of the board API.
type Server struct {
	Debug      bool
	ListenAddr string
	LayoutFile string
	Storage    Storage
	Redis      Redis
	Auth       Auth
	Repair     Repair
}

// Sweeper holds the settings of the maintenance worker.
type Sweeper struct {
	Debug        bool
	LayoutFile   string
	Storage      Storage
	Redis        Redis
	Interval     time.Duration
	PollInterval time.Duration
	MaxDequeue   int
}

type loader struct {
	errs *multierror.Error
}

func (l *loader) envInt(key string, def int) int {
	n, err := EnvInt(key, def)
	if err != nil {
		l.errs = multierror.Append(l.errs, err)
	}
	return n
}

func (l *loader) envDur(key string, def time.Duration) time.Duration {
	d, err := EnvDur(key, def)
	if err != nil {
		l.errs = multierror.Append(l.errs, err)
	}
	return d
}

func (l *loader) storage() Storage {
	s := Storage{
		Backend:          EnvString("BOARD_STORAGE", StorageAzure),
		ConnectionString: EnvString("STORAGE_CONNECTION_STRING", ""),
		PlacementsTable:  EnvString("PLACEMENTS_TABLE", "placements"),
		RepairQueue:      EnvString("REPAIR_QUEUE", "board-repairs"),
	}
	switch s.Backend {
	case StorageMemory:
	case StorageAzure:
		if s.ConnectionString == "" {
			l.errs = multierror.Append(l.errs, fmt.Errorf("missing STORAGE_CONNECTION_STRING"))
		}
	default:
		l.errs = multierror.Append(l.errs, fmt.Errorf("invalid BOARD_STORAGE %q", s.Backend))
	}
	return s
}

func (l *loader) redis() Redis {
	r := Redis{
		URL:            EnvString("REDIS_CONNECTION_STRING", ""),
		SnapshotTTL:    l.envDur("SNAPSHOT_CACHE_TTL", 30*time.Second),
		DeduperTTL:     l.envDur("DEDUPER_TTL", 24*time.Hour),
		ChangesChannel: EnvString("BOARD_CHANGES_CHANNEL", "board-changes"),
	}
	if r.URL != "" {
		if _, err := RedisOptions(r.URL); err != nil {
			l.errs = multierror.Append(l.errs, fmt.Errorf("REDIS_CONNECTION_STRING: %w", err))
		}
	}
	return r
}

// LoadServer reads the API settings. Every invalid value is reported.
func LoadServer() (Server, error) {
	l := &loader{}
	port := EnvString("FUNCTIONS_CUSTOMHANDLER_PORT", EnvString("PORT", "8080"))
	cfg := Server{
		Debug:      EnvBool("DEBUG"),
		ListenAddr: ":" + port,
		LayoutFile: EnvString("BOARD_LAYOUT_FILE", ""),
		Storage:    l.storage(),
		Redis:      l.redis(),
		Auth: Auth{
			Domain:       EnvString("AUTH0_DOMAIN", ""),
			Audience:     EnvString("AUTH0_AUDIENCE", ""),
			SharedSecret: EnvString("LOCAL_AUTH_SHARED_SECRET", ""),
			KeyCacheTTL:  l.envDur("JWKS_CACHE_TTL", 15*time.Minute),
		},
		Repair: Repair{
			Workers:        l.envInt("REPAIR_WORKERS", 2),
			Buffer:         l.envInt("REPAIR_BUFFER", 256),
			EnqueueTimeout: l.envDur("REPAIR_ENQUEUE_TIMEOUT", 10*time.Second),
			HandoffTimeout: l.envDur("REPAIR_HANDOFF_TIMEOUT", 50*time.Millisecond),
		},
	}
	if cfg.Auth.SharedSecret == "" && (cfg.Auth.Domain == "" || cfg.Auth.Audience == "") {
		l.errs = multierror.Append(l.errs, fmt.Errorf("missing Auth0 config: set AUTH0_DOMAIN and AUTH0_AUDIENCE or LOCAL_AUTH_SHARED_SECRET"))
	}
	return cfg, l.errs.ErrorOrNil()
}

// LoadSweeper reads the maintenance worker settings.
func LoadSweeper() (Sweeper, error) {
	l := &loader{}
	cfg := Sweeper{
		Debug:        EnvBool("DEBUG"),
		LayoutFile:   EnvString("BOARD_LAYOUT_FILE", ""),
		Storage:      l.storage(),
		Redis:        l.redis(),
		Interval:     l.envDur("SWEEP_INTERVAL", 5*time.Minute),
		PollInterval: l.envDur("REPAIR_POLL_INTERVAL", time.Second),
		MaxDequeue:   l.envInt("REPAIR_MAX_DEQUEUE", 5),
	}
	return cfg, l.errs.ErrorOrNil()
}
