package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/uhyunpark/bundlesettle/pkg/util"
)

type Node struct {
	DataDir  string
	LogFile  string // empty logs to stdout only
	LogLevel string
	WALFile  string // bundle outcome log, empty disables it

	CustodyAddress    string
	VenueAddress      string
	ArenaInitialBytes int

	// DevnetSeedAssets lists "asset:amount" pairs minted into the in-memory
	// venue at startup.
	DevnetSeedAssets []string
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type P2P struct {
	Enabled   bool
	Listen    string
	Bootstrap []string
	// AttesterPubkeys are hex-encoded BLS public keys whose attestations
	// are accepted on gossiped bundles.
	AttesterPubkeys []string
}

type Config struct {
	Node Node
	API  API
	P2P  P2P
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:           "./data",
			LogLevel:          "info",
			CustodyAddress:    "0x000000000000000000000000000000000000C057",
			VenueAddress:      "0x0000000000000000000000000000000000000E17",
			ArenaInitialBytes: 4 << 10,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		P2P: P2P{
			Enabled: false,
			Listen:  "/ip4/0.0.0.0/tcp/9000",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.WALFile = getEnv("WAL_FILE", cfg.Node.WALFile)
	cfg.Node.CustodyAddress = getEnv("CUSTODY_ADDRESS", cfg.Node.CustodyAddress)
	cfg.Node.VenueAddress = getEnv("VENUE_ADDRESS", cfg.Node.VenueAddress)
	if n := os.Getenv("ARENA_INITIAL_BYTES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Node.ArenaInitialBytes = v
		} else {
			cfg.Node.ArenaInitialBytes = -1 // rejected by Validate
		}
	}
	if seeds := os.Getenv("DEVNET_SEED_ASSETS"); seeds != "" {
		cfg.Node.DevnetSeedAssets = splitList(seeds)
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	if enabled := os.Getenv("P2P_ENABLED"); enabled != "" {
		cfg.P2P.Enabled = enabled == "true"
	}
	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if peers := os.Getenv("P2P_BOOTSTRAP"); peers != "" {
		cfg.P2P.Bootstrap = splitList(peers)
	}
	if keys := os.Getenv("ATTESTER_PUBKEYS"); keys != "" {
		cfg.P2P.AttesterPubkeys = splitList(keys)
	}

	return cfg
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if c.Node.DataDir == "" {
		err = multierr.Append(err, errors.New("DATA_DIR must not be empty"))
	}
	if _, e := util.ParseLevel(c.Node.LogLevel); e != nil {
		err = multierr.Append(err, fmt.Errorf("LOG_LEVEL: %w", e))
	}
	if !common.IsHexAddress(c.Node.CustodyAddress) {
		err = multierr.Append(err, fmt.Errorf("CUSTODY_ADDRESS %q is not an address", c.Node.CustodyAddress))
	}
	if !common.IsHexAddress(c.Node.VenueAddress) {
		err = multierr.Append(err, fmt.Errorf("VENUE_ADDRESS %q is not an address", c.Node.VenueAddress))
	}
	if c.Node.Custody() == c.Node.Venue() {
		err = multierr.Append(err, errors.New("CUSTODY_ADDRESS and VENUE_ADDRESS must differ"))
	}
	if c.Node.ArenaInitialBytes < 0 {
		err = multierr.Append(err, errors.New("ARENA_INITIAL_BYTES must be a non-negative integer"))
	}
	if _, e := c.Node.SeedAssets(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.API.Addr == "" {
		err = multierr.Append(err, errors.New("API_ADDR must not be empty"))
	}
	if c.P2P.Enabled {
		if c.P2P.Listen == "" {
			err = multierr.Append(err, errors.New("P2P_LISTEN must be set when P2P_ENABLED"))
		}
		if len(c.P2P.AttesterPubkeys) == 0 {
			err = multierr.Append(err, errors.New("ATTESTER_PUBKEYS must be set when P2P_ENABLED"))
		}
	}
	return err
}

func (n Node) Custody() common.Address { return common.HexToAddress(n.CustodyAddress) }

func (n Node) Venue() common.Address { return common.HexToAddress(n.VenueAddress) }

// SeedAmount is one parsed DEVNET_SEED_ASSETS entry.
type SeedAmount struct {
	Asset  common.Address
	Amount *uint256.Int
}

func (n Node) SeedAssets() ([]SeedAmount, error) {
	out := make([]SeedAmount, 0, len(n.DevnetSeedAssets))
	for _, entry := range n.DevnetSeedAssets {
		addr, amount, ok := strings.Cut(entry, ":")
		if !ok || !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("DEVNET_SEED_ASSETS entry %q: want <address>:<amount>", entry)
		}
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("DEVNET_SEED_ASSETS entry %q: %w", entry, err)
		}
		out = append(out, SeedAmount{Asset: common.HexToAddress(addr), Amount: v})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
