package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vaultline/internal/app"
	"vaultline/internal/config"
	"vaultline/internal/db"
	"vaultline/internal/engine"
	"vaultline/internal/migrate"
	"vaultline/internal/repo"
	"vaultline/internal/server"
	"vaultline/internal/token"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Vaultline CLI",
	Long: `Vaultline is a value-custody and settlement ledger.
Core concepts:
- Workspace: your .vaultline directory holding the database; config lives in the DB and is imported from vaultline.yml.
- Stakers: accounts that lock tokens as collateral; stake can be allocated to escrows and slashed by the authority.
- Allocations: stake pledged against one escrow; state is derived from the escrow lifecycle.
- Escrows: funded pots that pay out work results in bulk, with oracle fees split per payout.
- Rewards: slashed stake pools per escrow, minus a protocol fee, distributable to slashers.
- Event log: diary of changes, view with 'vl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VAULTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(stakerCmd())
	rootCmd.AddCommand(allocationCmd())
	rootCmd.AddCommand(slashCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(reputationCmd())
	rootCmd.AddCommand(kvCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect ledger config",
		Long:  "Config is the rulebook (stored in DB): token id, staking minimum and lock period, protocol fee, and escrow limits. Import from vaultline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{
		Use:   "token",
		Short: "Token operations",
		Long:  "Mint tokens (rewards owner only), transfer between accounts, and read balances.",
	}
	tok.AddCommand(tokenMintCmd())
	tok.AddCommand(tokenTransferCmd())
	tok.AddCommand(tokenBalanceCmd())
	return tok
}

func tokenMintCmd() *cobra.Command {
	var account, amount string
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint tokens to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Mint(ctx, viper.GetString("actor-id"), account, a); err != nil {
					return err
				}
				return printBalance(ctx, e, account)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "destination account")
	cmd.Flags().StringVar(&amount, "amount", "", "amount (decimal string)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func tokenTransferCmd() *cobra.Command {
	var to, amount string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.TransferTokens(ctx, viper.GetString("actor-id"), to, a); err != nil {
					return err
				}
				return printBalance(ctx, e, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination account")
	cmd.Flags().StringVar(&amount, "amount", "", "amount (decimal string)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func tokenBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [account]",
		Short: "Show account balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := viper.GetString("actor-id")
			if len(args) == 1 {
				account = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printBalance(ctx, e, account)
			})
		},
	}
	return cmd
}

func stakerCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "staker",
		Short: "Manage stake",
		Long:  "Stake moves tokens into collateral. Unstaking schedules tokens behind a lock; withdraw releases them once the lock matures.",
	}
	st.AddCommand(stakerStakeCmd())
	st.AddCommand(stakerUnstakeCmd())
	st.AddCommand(stakerWithdrawCmd())
	st.AddCommand(stakerListCmd())
	st.AddCommand(stakerShowCmd())
	return st
}

func stakerStakeCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Stake tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Stake(ctx, viper.GetString("actor-id"), a)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount (decimal string)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func stakerUnstakeCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "unstake",
		Short: "Schedule tokens for release",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Unstake(ctx, viper.GetString("actor-id"), a)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount (decimal string)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func stakerWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw a matured lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				due, err := e.Withdraw(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"withdrawn": due.String()})
			})
		},
	}
	return cmd
}

func stakerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stakers, err := e.Repo.ListStakers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stakers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Address", "Staked", "Allocated", "Locked", "Locked Until", "Available"})
				for _, s := range stakers {
					tw.AppendRow(table.Row{
						s.Address,
						s.TokenStaked.String(),
						s.TokensAllocated.String(),
						s.TokensLocked.String(),
						s.TokensLockedUntil,
						s.TokensAvailable().String(),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stakerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <address>",
		Short: "Show staker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetStaker(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func allocationCmd() *cobra.Command {
	alloc := &cobra.Command{
		Use:   "allocation",
		Short: "Manage allocations",
		Long:  "Allocations pledge available stake to one escrow. Close once the escrow completes to release the pledge.",
	}
	alloc.AddCommand(allocationCreateCmd())
	alloc.AddCommand(allocationCloseCmd())
	alloc.AddCommand(allocationShowCmd())
	alloc.AddCommand(allocationStateCmd())
	return alloc
}

func allocationCreateCmd() *cobra.Command {
	var escrowAddress, tokens string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Allocate stake to an escrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("tokens", tokens)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alloc, err := e.Allocate(ctx, viper.GetString("actor-id"), escrowAddress, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(alloc)
			})
		},
	}
	cmd.Flags().StringVar(&escrowAddress, "escrow", "", "escrow address")
	cmd.Flags().StringVar(&tokens, "tokens", "", "tokens to allocate")
	_ = cmd.MarkFlagRequired("escrow")
	_ = cmd.MarkFlagRequired("tokens")
	return cmd
}

func allocationCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <escrow-address>",
		Short: "Close an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alloc, err := e.CloseAllocation(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(alloc)
			})
		},
	}
	return cmd
}

func allocationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <escrow-address>",
		Short: "Show allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alloc, err := e.Repo.GetAllocation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(alloc)
			})
		},
	}
	return cmd
}

func allocationStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <escrow-address>",
		Short: "Show derived allocation state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state, err := e.AllocationState(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"escrow_address": args[0],
					"state":          string(state),
				})
			})
		},
	}
	return cmd
}

func slashCmd() *cobra.Command {
	var slasher, staker, escrowAddress, tokens string
	cmd := &cobra.Command{
		Use:   "slash",
		Short: "Slash an allocation (authority only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("tokens", tokens)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Slash(ctx, viper.GetString("actor-id"), slasher, staker, escrowAddress, a)
			})
		},
	}
	cmd.Flags().StringVar(&slasher, "slasher", "", "slasher credited with the reward")
	cmd.Flags().StringVar(&staker, "staker", "", "staker being slashed")
	cmd.Flags().StringVar(&escrowAddress, "escrow", "", "escrow address")
	cmd.Flags().StringVar(&tokens, "tokens", "", "tokens to slash")
	_ = cmd.MarkFlagRequired("slasher")
	_ = cmd.MarkFlagRequired("staker")
	_ = cmd.MarkFlagRequired("escrow")
	_ = cmd.MarkFlagRequired("tokens")
	return cmd
}

func escrowCmd() *cobra.Command {
	esc := &cobra.Command{
		Use:   "escrow",
		Short: "Manage escrows",
		Long:  "Escrows hold funds for bulk payouts: launched -> pending -> partial -> paid -> complete, or cancelled on refund.",
	}
	esc.AddCommand(escrowCreateCmd())
	esc.AddCommand(escrowSetupCmd())
	esc.AddCommand(escrowDepositCmd())
	esc.AddCommand(escrowPayoutCmd())
	esc.AddCommand(escrowResultsCmd())
	esc.AddCommand(escrowCompleteCmd())
	esc.AddCommand(escrowCancelCmd())
	esc.AddCommand(escrowAbortCmd())
	esc.AddCommand(escrowAddHandlersCmd())
	esc.AddCommand(escrowListCmd())
	esc.AddCommand(escrowShowCmd())
	esc.AddCommand(escrowBalanceCmd())
	return esc
}

func escrowCreateCmd() *cobra.Command {
	var canceler, bulkMaxValue string
	var handlers []string
	var durationSeconds uint64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create escrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			bulkMax, err := parseAmountFlag("bulk-max-value", bulkMaxValue)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.CreateEscrow(ctx, viper.GetString("actor-id"), engine.EscrowCreateOptions{
					Canceler:        canceler,
					TrustedHandlers: handlers,
					DurationSeconds: durationSeconds,
					BulkMaxValue:    bulkMax,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&canceler, "canceler", "", "canceler address (defaults to launcher)")
	cmd.Flags().StringArrayVar(&handlers, "trusted-handler", []string{}, "trusted handler (repeatable)")
	cmd.Flags().Uint64Var(&durationSeconds, "duration-seconds", 0, "escrow duration (defaults from config)")
	cmd.Flags().StringVar(&bulkMaxValue, "bulk-max-value", "", "aggregate payout cap (defaults from config)")
	return cmd
}

func escrowSetupCmd() *cobra.Command {
	var opts engine.EscrowSetupOptions
	cmd := &cobra.Command{
		Use:   "setup <address>",
		Short: "Set up escrow oracles and manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.SetupEscrow(ctx, viper.GetString("actor-id"), args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReputationOracle, "reputation-oracle", "", "reputation oracle address")
	cmd.Flags().StringVar(&opts.RecordingOracle, "recording-oracle", "", "recording oracle address")
	cmd.Flags().Uint64Var(&opts.ReputationOracleStake, "reputation-oracle-stake", 0, "reputation oracle fee percent")
	cmd.Flags().Uint64Var(&opts.RecordingOracleStake, "recording-oracle-stake", 0, "recording oracle fee percent")
	cmd.Flags().StringVar(&opts.ManifestURL, "manifest-url", "", "manifest URL")
	cmd.Flags().StringVar(&opts.ManifestHash, "manifest-hash", "", "manifest hash")
	cmd.Flags().Uint64Var(&opts.Solutions, "solutions", 0, "expected solution count")
	_ = cmd.MarkFlagRequired("reputation-oracle")
	_ = cmd.MarkFlagRequired("recording-oracle")
	_ = cmd.MarkFlagRequired("solutions")
	return cmd
}

func escrowDepositCmd() *cobra.Command {
	var tokenID, amount string
	cmd := &cobra.Command{
		Use:   "deposit <address>",
		Short: "Fund escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmountFlag("amount", amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if tokenID == "" {
					tokenID = e.Config.Token.ID
				}
				return e.DepositEscrow(ctx, viper.GetString("actor-id"), args[0], tokenID, a)
			})
		},
	}
	cmd.Flags().StringVar(&tokenID, "token", "", "token id (defaults from config)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount (decimal string)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func escrowPayoutCmd() *cobra.Command {
	var recipients, amounts []string
	var resultsURL, resultsHash string
	cmd := &cobra.Command{
		Use:   "payout <address>",
		Short: "Bulk payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]token.Amount, 0, len(amounts))
			for _, raw := range amounts {
				a, err := parseAmountFlag("amount", raw)
				if err != nil {
					return err
				}
				parsed = append(parsed, a)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				paid, err := e.BulkPayout(ctx, viper.GetString("actor-id"), args[0], engine.BulkPayoutOptions{
					Recipients:  recipients,
					Amounts:     parsed,
					ResultsURL:  resultsURL,
					ResultsHash: resultsHash,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"paid": paid})
			})
		},
	}
	cmd.Flags().StringArrayVar(&recipients, "recipient", []string{}, "recipient address (repeatable)")
	cmd.Flags().StringArrayVar(&amounts, "amount", []string{}, "gross amount per recipient (repeatable)")
	cmd.Flags().StringVar(&resultsURL, "results-url", "", "final results URL")
	cmd.Flags().StringVar(&resultsHash, "results-hash", "", "final results hash")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func escrowResultsCmd() *cobra.Command {
	var url, hash string
	cmd := &cobra.Command{
		Use:   "results <address>",
		Short: "Store intermediate results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.StoreResults(ctx, viper.GetString("actor-id"), args[0], url, hash)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "results URL")
	cmd.Flags().StringVar(&hash, "hash", "", "results hash")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func escrowCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <address>",
		Short: "Complete escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CompleteEscrow(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func escrowCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <address>",
		Short: "Cancel escrow and refund the canceler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CancelEscrow(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func escrowAbortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <address>",
		Short: "Abort escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AbortEscrow(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func escrowAddHandlersCmd() *cobra.Command {
	var handlers []string
	cmd := &cobra.Command{
		Use:   "add-handlers <address>",
		Short: "Add trusted handlers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(handlers) == 0 {
				return fmt.Errorf("--handler required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddTrustedHandlers(ctx, viper.GetString("actor-id"), args[0], handlers)
			})
		},
	}
	cmd.Flags().StringArrayVar(&handlers, "handler", []string{}, "handler address (repeatable)")
	return cmd
}

func escrowListCmd() *cobra.Command {
	var launcher, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escrows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				escrows, err := e.Repo.ListEscrows(ctx, launcher, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(escrows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Address", "Status", "Launcher", "Remaining", "Expiration"})
				for _, esc := range escrows {
					tw.AppendRow(table.Row{esc.Address, esc.Status, esc.Launcher, esc.RemainingSolutions, esc.Expiration})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&launcher, "launcher", "", "launcher filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func escrowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <address>",
		Short: "Show escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.Repo.GetEscrow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	return cmd
}

func escrowBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Show escrow balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.EscrowBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"address": args[0], "balance": balance.String()})
			})
		},
	}
	return cmd
}

func rewardsCmd() *cobra.Command {
	rw := &cobra.Command{
		Use:   "rewards",
		Short: "Rewards pool",
		Long:  "Slashed stake accumulates per escrow minus the protocol fee; anyone can trigger distribution to slashers.",
	}
	rw.AddCommand(rewardsShowCmd())
	rw.AddCommand(rewardsDistributeCmd())
	rw.AddCommand(rewardsWithdrawFeesCmd())
	rw.AddCommand(rewardsSetTokenCmd())
	return rw
}

func rewardsShowCmd() *cobra.Command {
	var escrowAddress string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show fee total and pending rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				feeToken, totalFee, err := e.RewardFees(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{"token": feeToken, "total_fee": totalFee.String()}
				if escrowAddress != "" {
					rewards, err := e.Repo.ListRewardsByEscrow(ctx, escrowAddress)
					if err != nil {
						return err
					}
					out["rewards"] = rewards
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&escrowAddress, "escrow", "", "escrow address")
	return cmd
}

func rewardsDistributeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distribute <escrow-address>",
		Short: "Distribute pending rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DistributeRewards(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func rewardsWithdrawFeesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw-fees",
		Short: "Withdraw protocol fees (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fee, err := e.WithdrawFees(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"withdrawn": fee.String()})
			})
		},
	}
	return cmd
}

func rewardsSetTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-token <token-id>",
		Short: "Set the fee token (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetRewardsToken(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func reputationCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "reputation",
		Short: "Reputation scores",
	}
	rep.AddCommand(reputationAddCmd())
	rep.AddCommand(reputationShowCmd())
	return rep
}

func reputationAddCmd() *cobra.Command {
	var address string
	var delta int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Apply a reputation delta (oracle only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.AddReputation(ctx, viper.GetString("actor-id"), address, delta)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "target address")
	cmd.Flags().Int64Var(&delta, "delta", 0, "score delta")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("delta")
	return cmd
}

func reputationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <address>",
		Short: "Show reputation score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Repo.GetReputation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func kvCmd() *cobra.Command {
	kv := &cobra.Command{
		Use:   "kv",
		Short: "Key/value store",
	}
	kv.AddCommand(kvSetCmd())
	kv.AddCommand(kvGetCmd())
	return kv
}

func kvSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Publish a key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.SetKV(ctx, viper.GetString("actor-id"), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	return cmd
}

func kvGetCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key/value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				owner := address
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				entry, err := e.Repo.GetKV(ctx, owner, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "owner address (defaults to actor)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: stakes, locks, payouts, slashes, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id, secret, err := repo.NewAPIKey(ctx, r, actorID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       id,
					"actor_id": actorID,
					"key":      secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("VAULTLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("VAULTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Vaultline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func parseAmountFlag(flag, value string) (token.Amount, error) {
	a, err := token.Parse(value)
	if err != nil {
		return token.Zero(), fmt.Errorf("--%s: %w", flag, err)
	}
	return a, nil
}

func printBalance(ctx context.Context, e engine.Engine, account string) error {
	balance, err := e.Ledger.BalanceOf(ctx, nil, account, e.Config.Token.ID)
	if err != nil {
		return err
	}
	return printJSONOrTable(map[string]string{
		"account": account,
		"token":   e.Config.Token.ID,
		"amount":  balance.String(),
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
