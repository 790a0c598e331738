// Command fundwave is the command-line client for the campaign ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/dbilnica/fundwave-dapp/internal/client"
	"github.com/dbilnica/fundwave-dapp/internal/config"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/units"
)

var globalFlags = struct {
	url       string
	programID string
	keypair   string
}{}

func defaultKeypair() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() (*client.Client, error) {
	programID, err := solana.PublicKeyFromBase58(globalFlags.programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	return client.New(globalFlags.url, programID, nil), nil
}

func session() (*client.Session, error) {
	return client.LoadSession(globalFlags.keypair)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAddress(raw string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return pk, nil
}

// signedCampaignCommand builds a command that signs one instruction against
// the campaign given as its only argument.
func signedCampaignCommand(use, short string, call func(ctx context.Context, c *client.Client, s *client.Session, campaign solana.PublicKey) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <campaign>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaign, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			s, err := session()
			if err != nil {
				return err
			}
			res, err := call(cmd.Context(), c, s, campaign)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func keygenCommand() *cobra.Command {
	var out string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new keypair file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = globalFlags.keypair
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to overwrite", out)
			}
			key, err := solana.NewRandomPrivateKey()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return err
			}
			if err := client.SaveKeygenFile(out, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\npubkey: %s\n", out, key.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "outfile", "o", "", "path for the keypair file (default: --keypair)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func campaignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Create and inspect campaigns",
	}

	var in model.CampaignInput
	var goal string
	var days int64
	var image string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the campaign owned by your keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			lamports, err := units.ParseSol(goal)
			if err != nil {
				return err
			}
			in.Goal = lamports
			in.Duration = days * model.SecondsPerDay
			c, err := newClient()
			if err != nil {
				return err
			}
			s, err := session()
			if err != nil {
				return err
			}
			if image != "" {
				data, err := os.ReadFile(image)
				if err != nil {
					return err
				}
				cid, err := c.UploadImage(cmd.Context(), filepath.Base(image), data)
				if err != nil {
					return fmt.Errorf("upload image: %w", err)
				}
				in.ImageCID = cid
			}
			r, err := c.CreateCampaign(cmd.Context(), s, in)
			if err != nil {
				return err
			}
			return printJSON(cmd, r)
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "campaign name (3-50 characters)")
	create.Flags().StringVar(&in.Description, "description", "", "campaign description (10-500 characters)")
	create.Flags().StringVar(&goal, "goal", "", "goal in SOL, for example 12.5")
	create.Flags().Int64Var(&days, "days", 30, "duration in days")
	create.Flags().StringVar(&image, "image", "", "image file to upload and attach")
	create.MarkFlagRequired("name")
	create.MarkFlagRequired("description")
	create.MarkFlagRequired("goal")

	var opts client.ListOptions
	var owner, pledger string
	list := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if owner != "" {
				if opts.Owner, err = parseAddress(owner); err != nil {
					return err
				}
			}
			if pledger != "" {
				if opts.Pledger, err = parseAddress(pledger); err != nil {
					return err
				}
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			page, err := c.ListCampaigns(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only campaigns owned by this key")
	list.Flags().StringVar(&pledger, "pledger", "", "only campaigns this key has pledged to")
	list.Flags().StringVar(&opts.State, "state", "", "ongoing, ended, pending, reviewed, canceled or withdrawn")
	list.Flags().StringVarP(&opts.Search, "query", "q", "", "search name and description")
	list.Flags().IntVar(&opts.Page, "page", 0, "page number")
	list.Flags().IntVar(&opts.PageSize, "page-size", 0, "page size (max 100)")

	show := &cobra.Command{
		Use:   "show <campaign>",
		Short: "Show one campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			v, err := c.GetCampaign(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}

	address := &cobra.Command{
		Use:   "address",
		Short: "Print the campaign address derived from your keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			s, err := session()
			if err != nil {
				return err
			}
			addr, err := c.CampaignAddress(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}

	cmd.AddCommand(
		create,
		list,
		show,
		address,
		signedCampaignCommand("review", "Approve a pending campaign (admin)", func(ctx context.Context, c *client.Client, s *client.Session, campaign solana.PublicKey) (any, error) {
			return c.Review(ctx, s, campaign)
		}),
		signedCampaignCommand("cancel", "Cancel a pending campaign (admin)", func(ctx context.Context, c *client.Client, s *client.Session, campaign solana.PublicKey) (any, error) {
			return c.Cancel(ctx, s, campaign)
		}),
		signedCampaignCommand("withdraw", "Withdraw pledged funds (owner)", func(ctx context.Context, c *client.Client, s *client.Session, campaign solana.PublicKey) (any, error) {
			return c.Withdraw(ctx, s, campaign)
		}),
	)
	return cmd
}

func supportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "support <campaign> <sol>",
		Short: "Pledge SOL to a campaign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaign, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			lamports, err := units.ParseSol(args[1])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			s, err := session()
			if err != nil {
				return err
			}
			r, err := c.Support(cmd.Context(), s, campaign, lamports)
			if err != nil {
				return err
			}
			return printJSON(cmd, r)
		},
	}
	cmd.AddCommand(signedCampaignCommand("cancel", "Take back your whole pledge", func(ctx context.Context, c *client.Client, s *client.Session, campaign solana.PublicKey) (any, error) {
		return c.CancelSupport(ctx, s, campaign)
	}))
	return cmd
}

func adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin account",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Become the admin if none exists",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				s, err := session()
				if err != nil {
					return err
				}
				r, err := c.InitializeAdmin(cmd.Context(), s)
				if err != nil {
					return err
				}
				return printJSON(cmd, r)
			},
		},
		&cobra.Command{
			Use:   "transfer <new-admin>",
			Short: "Hand the admin role to another key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				next, err := parseAddress(args[0])
				if err != nil {
					return err
				}
				c, err := newClient()
				if err != nil {
					return err
				}
				s, err := session()
				if err != nil {
					return err
				}
				r, err := c.TransferOwnership(cmd.Context(), s, next)
				if err != nil {
					return err
				}
				return printJSON(cmd, r)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the admin account",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				a, err := c.GetAdmin(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, a)
			},
		},
	)
	return cmd
}

// walletAddress returns the first argument, or the keypair's key.
func walletAddress(args []string) (solana.PublicKey, error) {
	if len(args) > 0 {
		return parseAddress(args[0])
	}
	s, err := session()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return s.PublicKey(), nil
}

func balanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show a balance in SOL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := walletAddress(args)
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			lamports, err := c.Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s SOL\n", units.FormatSol(lamports))
			return nil
		},
	}
}

func airdropCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "airdrop <sol> [address]",
		Short: "Request development SOL",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lamports, err := units.ParseSol(args[0])
			if err != nil {
				return err
			}
			addr, err := walletAddress(args[1:])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			balance, err := c.Airdrop(cmd.Context(), addr, lamports)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s SOL\n", units.FormatSol(balance))
			return nil
		},
	}
}

func uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a campaign image and print its CID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			cid, err := c.UploadImage(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cid)
			return nil
		},
	}
}

func watchCommand() *cobra.Command {
	var after int64
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print ledger events as they are committed",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			for ev := range c.Watch(cmd.Context(), after, interval) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s SOL\n",
					strconv.FormatInt(ev.Seq, 10), ev.Instruction, ev.Campaign, units.FormatSol(ev.Amount))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "start after this event sequence number")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "fundwave",
		Short:        "Crowdfunding campaign ledger client",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&globalFlags.url, "url", envOr("FUNDWAVE_URL", "http://localhost:8080"), "ledger service URL")
	rootCmd.PersistentFlags().StringVar(&globalFlags.programID, "program-id", envOr("FUNDWAVE_PROGRAM_ID", config.DefaultProgramID), "program id used for signing and address derivation")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.keypair, "keypair", "k", envOr("FUNDWAVE_KEYPAIR", defaultKeypair()), "solana-keygen keypair file")

	rootCmd.AddCommand(
		keygenCommand(),
		campaignCommand(),
		supportCommand(),
		adminCommand(),
		balanceCommand(),
		airdropCommand(),
		uploadCommand(),
		watchCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
