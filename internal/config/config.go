package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var DefaultCandidates = []string{"lf", "ar", "cd", "nd", "arr", "fa", "jch", "jab", "nulo", "indeciso"}

type Config struct {
	Port           int
	StoreBackend   string // sqlite or redis
	DBDSN          string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CandidatesFile string
	Candidates     []string
	TestModeSecret string // empty disables test mode
	GlobalVoteCap  int
	GlobalWindow   time.Duration
	AddressLockTTL time.Duration
	VoteLogCap     int
	StoreTimeout   time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func Load() Config {
	return Config{
		Port:           getint("PORT", 8080),
		StoreBackend:   getenv("STORE_BACKEND", "sqlite"),
		DBDSN:          getenv("DB_DSN", "file:pollguard.db?_busy_timeout=5000&_journal_mode=WAL"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        getint("REDIS_DB", 0),
		CandidatesFile: getenv("CANDIDATES_FILE", ""),
		Candidates:     DefaultCandidates,
		TestModeSecret: getenv("TEST_MODE_SECRET", ""),
		GlobalVoteCap:  getint("GLOBAL_VOTE_CAP", 10),
		GlobalWindow:   getdur("GLOBAL_WINDOW", 60*time.Second),
		AddressLockTTL: getdur("ADDRESS_LOCK_TTL", 24*time.Hour),
		VoteLogCap:     getint("VOTE_LOG_CAP", 1000),
		StoreTimeout:   getdur("STORE_TIMEOUT", 5*time.Second),
	}
}

type candidateFile struct {
	Candidates []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"candidates"`
}

// LoadCandidates reads the option set from a YAML file of the form
//
//	candidates:
//	  - id: lf
//	    name: Laura Fernandez
func LoadCandidates(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}
	var f candidateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse candidates file: %w", err)
	}
	ids := make([]string, 0, len(f.Candidates))
	for _, c := range f.Candidates {
		if c.ID == "" {
			return nil, fmt.Errorf("candidate %q has no id", c.Name)
		}
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("candidates file %s lists no candidates", path)
	}
	return ids, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite or redis, got %q", c.StoreBackend)
	}
	if len(c.Candidates) == 0 {
		return fmt.Errorf("no candidates configured")
	}
	if c.GlobalWindow <= 0 || c.AddressLockTTL <= 0 {
		return fmt.Errorf("GLOBAL_WINDOW and ADDRESS_LOCK_TTL must be positive")
	}
	return nil
}
