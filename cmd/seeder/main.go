// cmd/seeder/main.go
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/dbilnica/fundwave-dapp/internal/client"
	"github.com/dbilnica/fundwave-dapp/internal/config"
	"github.com/dbilnica/fundwave-dapp/internal/db"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/instruction"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
	"github.com/dbilnica/fundwave-dapp/internal/service"
	"github.com/dbilnica/fundwave-dapp/internal/units"
)

var seedFiles = []string{
	"seed/balances.sql",
}

var devWallets = []string{"alice", "bob", "carol"}

// devKey returns the deterministic development key for name.
func devKey(name string) solana.PrivateKey {
	seed := sha256.Sum256([]byte("fundwave-dev-" + name))
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:]))
}

func main() {
	var (
		configFile string
		keysDir    string
		demo       bool
	)
	cmd := &cobra.Command{
		Use:          "fundwave-seeder",
		Short:        "Apply the schema and development seed data",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return seed(cmd.Context(), cfg, logger, keysDir, demo)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file to load")
	cmd.Flags().StringVar(&keysDir, "keys-dir", "", "write the development keypairs to this directory")
	cmd.Flags().BoolVar(&demo, "demo", false, "also create the admin account and demo campaigns")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, logger *slog.Logger, keysDir string, demo bool) error {
	conn, err := db.Open(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	fmt.Println("Schema applied")

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	if keysDir != "" {
		if err := os.MkdirAll(keysDir, 0o700); err != nil {
			return err
		}
		for _, name := range devWallets {
			path := filepath.Join(keysDir, name+".json")
			if err := client.SaveKeygenFile(path, devKey(name)); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("Wrote %s (%s)\n", path, devKey(name).PublicKey())
		}
	}

	if demo {
		if err := seedDemo(ctx, cfg, &repository.PostgresLedgerRepository{DB: conn}, logger); err != nil {
			return err
		}
	}
	fmt.Println("Database seeding completed successfully!")
	return nil
}

// seedDemo signs real instructions so demo data passes every ledger rule.
// Rerunning it skips what already exists.
func seedDemo(ctx context.Context, cfg *config.Config, repo repository.LedgerRepositoryInterface, logger *slog.Logger) error {
	programID, err := cfg.Program()
	if err != nil {
		return err
	}
	ledger, err := service.NewLedgerService(repo, nil, nil, logger, service.Options{
		ProgramID:         programID,
		MinPledgeLamports: cfg.MinPledgeLamports,
	})
	if err != nil {
		return err
	}
	alice, bob, carol := devKey("alice"), devKey("bob"), devKey("carol")

	exec := func(key solana.PrivateKey, name instruction.Name, campaign solana.PublicKey, args instruction.Args) (*service.Receipt, error) {
		env := instruction.New(name, key.PublicKey(), campaign, args, time.Now())
		if err := env.Sign(programID, key); err != nil {
			return nil, err
		}
		return ledger.Execute(ctx, env)
	}
	skipExisting := func(err error) error {
		if errors.Is(err, appErrors.ErrAdminExists) || errors.Is(err, appErrors.ErrCampaignExists) {
			return nil
		}
		return err
	}

	if _, err := exec(alice, instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{}); skipExisting(err) != nil {
		return err
	}
	r, err := exec(bob, instruction.CampaignCreate, solana.PublicKey{}, instruction.Args{
		Name:        "Neighbourhood solar roof",
		Description: "Solar panels for the community centre roof",
		Goal:        50 * units.LamportsPerSol,
		Duration:    30 * 24 * 3600,
	})
	if skipExisting(err) != nil {
		return err
	}
	if err == nil {
		if _, err := exec(alice, instruction.CampaignReview, r.Campaign, instruction.Args{}); err != nil {
			return err
		}
		if _, err := exec(carol, instruction.CampaignSupport, r.Campaign, instruction.Args{Amount: 5 * units.LamportsPerSol}); err != nil {
			return err
		}
	}
	if _, err := exec(carol, instruction.CampaignCreate, solana.PublicKey{}, instruction.Args{
		Name:        "School garden tools",
		Description: "Shovels, seeds and a shed for the school garden",
		Goal:        8 * units.LamportsPerSol,
		Duration:    14 * 24 * 3600,
	}); skipExisting(err) != nil {
		return err
	}
	fmt.Println("Demo ledger seeded")
	return nil
}
