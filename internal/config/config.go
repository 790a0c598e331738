package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreSqlite   = "sqlite"
	StoreMemory   = "memory"
)

// Pin store backends
const (
	PinStorePinata = "pinata"
	PinStoreBadger = "badger"
)

// DefaultProgramID is used when no program id is configured.
const DefaultProgramID = "FfAV7kEYoN1H5fVD8AGhppYU4btuTPo9Eo4SEXchXXNv"

type Config struct {
	Port  string `yaml:"port" envconfig:"PORT"`
	Debug bool   `yaml:"debug" envconfig:"DEBUG"`

	ProgramID string `yaml:"programId" envconfig:"PROGRAM_ID"`

	Store      string         `yaml:"store" envconfig:"STORE"`
	SqlitePath string         `yaml:"sqlitePath" envconfig:"SQLITE_PATH"`
	Database   DatabaseConfig `yaml:"database"`

	AMQPURL     string   `yaml:"amqpUrl" envconfig:"AMQP_URL"`
	QueueName   string   `yaml:"queueName" envconfig:"QUEUE_NAME"`
	WebhookURLs []string `yaml:"webhookUrls" envconfig:"WEBHOOK_URLS"`

	InstructionTTL     time.Duration `yaml:"instructionTtl" envconfig:"INSTRUCTION_TTL"`
	MinPledgeLamports  uint64        `yaml:"minPledgeLamports" envconfig:"MIN_PLEDGE_LAMPORTS"`
	AirdropEnabled     bool          `yaml:"airdropEnabled" envconfig:"AIRDROP_ENABLED"`
	AirdropMaxLamports uint64        `yaml:"airdropMaxLamports" envconfig:"AIRDROP_MAX_LAMPORTS"`

	PinStore     string `yaml:"pinStore" envconfig:"PIN_STORE"`
	PinataJWT    string `yaml:"pinataJwt" envconfig:"PINATA_JWT"`
	PinataAPIURL string `yaml:"pinataApiUrl" envconfig:"PINATA_API_URL"`
	BadgerDir    string `yaml:"badgerDir" envconfig:"BADGER_DIR"`
	MaxUpload    int64  `yaml:"maxUploadBytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// DatabaseConfig keeps the DB_* variable names used by the deploy scripts.
// envconfig falls back to the bare tag name when the prefixed key is unset.
type DatabaseConfig struct {
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     string `yaml:"port" envconfig:"DB_PORT"`
	Name     string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode  string `yaml:"sslMode" envconfig:"DB_SSLMODE"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

func Default() *Config {
	return &Config{
		Port:      "8080",
		ProgramID: DefaultProgramID,
		Store:     StorePostgres,
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			Name:    "fundwave",
			SSLMode: "disable",
		},
		QueueName:          "ledger_events",
		InstructionTTL:     2 * time.Minute,
		MinPledgeLamports:  10_000_000,
		AirdropMaxLamports: 2_000_000_000,
		PinStore:           PinStoreBadger,
		PinataAPIURL:       "https://api.pinata.cloud",
		MaxUpload:          10 << 20,
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then
// the environment. A .env file in the working directory is loaded first.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}
	cfg := Default()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("fundwave", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreSqlite, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.PinStore {
	case PinStorePinata:
		if c.PinataJWT == "" {
			return errors.New("pinata pin store requires PINATA_JWT")
		}
	case PinStoreBadger:
	default:
		return fmt.Errorf("unknown pin store %q", c.PinStore)
	}
	if _, err := c.Program(); err != nil {
		return err
	}
	if c.InstructionTTL <= 0 {
		return errors.New("instruction ttl must be positive")
	}
	return nil
}

// Program parses ProgramID.
func (c *Config) Program() (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id %q: %w", c.ProgramID, err)
	}
	return pk, nil
}
