package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sonicalchemy/studio/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	jsonOut   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sonic",
	Short: "Sonic Alchemy studio CLI",
	Long: `sonic is the command-line interface for a Sonic Alchemy studio server.

Start a session with 'sonic token <user-id>'; the session token is saved to
~/.sonic/config.yaml and used by every later command.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(configDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("sonic")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.sonic/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "studio server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON")

	rootCmd.AddCommand(tokenCmd, balanceCmd, transferCmd, railsCmd, auditCmd, verifyCmd, generateCmd, versionCmd)
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sonic")
}

// newClient returns a client carrying the saved session token.
func newClient(opts ...client.Option) (*client.Client, error) {
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Start a studio session and save its token",
	Long: `Registers <user-id> and saves its first session token. For a user id
that is already registered, the saved token of that user is refreshed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		sess, err := c.InitSession(ctx, args[0])
		if errors.Is(err, client.ErrConflict) {
			saved := viper.GetString("token")
			if viper.GetString("user_id") != args[0] || saved == "" {
				return fmt.Errorf("%s is already registered and no session of it is saved", args[0])
			}
			c.SetBearerToken(saved)
			sess, err = c.RefreshSession(ctx)
			if err != nil {
				return fmt.Errorf("refresh session: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("init session: %w", err)
		}

		viper.Set("server_url", serverURL)
		viper.Set("user_id", sess.Identity.ID)
		viper.Set("token", sess.AccessToken)
		if err := saveConfig(); err != nil {
			return err
		}

		if jsonOut {
			return printJSON(sess)
		}
		fmt.Printf("✓ Session started for %s (%s)\n", sess.Identity.ID, sess.Identity.Level)
		fmt.Printf("  Balance: %s SAC\n", sess.Balance)
		fmt.Printf("  Token expires in %s\n", time.Duration(sess.ExpiresIn)*time.Second)
		return nil
	},
}

func saveConfig() error {
	path := viper.ConfigFileUsed()
	if path == "" {
		dir := configDir()
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// ── balance ──────────────────────────────────────────────────────────────────

var balanceToken string

var balanceCmd = &cobra.Command{
	Use:   "balance [account]",
	Short: "Show an account's balance (default: the session user)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := viper.GetString("user_id")
		if len(args) == 1 {
			account = args[0]
		}
		if account == "" {
			return fmt.Errorf("no account given and no session saved; run 'sonic token <user-id>'")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		b, err := c.Balance(ctx, account, balanceToken)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(b)
		}
		fmt.Printf("%s: %s %s\n", b.AccountID, b.Amount, b.TokenID)
		return nil
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceToken, "token", client.CreditTokenID, "token id")
}

// ── transfer ─────────────────────────────────────────────────────────────────

var transferRail string

var transferCmd = &cobra.Command{
	Use:   "transfer <destination> <amount>",
	Short: "Transfer studio credit from the session user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		tx, err := c.Transfer(ctx, client.TransferRequest{
			Destination: args[0],
			Amount:      amount,
			Rail:        transferRail,
		})
		if err != nil {
			return fmt.Errorf("transfer: %w", err)
		}
		if jsonOut {
			return printJSON(tx)
		}
		fmt.Printf("✓ Transferred %s to %s\n", tx.Amount, tx.DestinationAccountID)
		fmt.Printf("  Transaction: %s\n", tx.ID)
		fmt.Printf("  Rail:        %s\n", strings.Join(tx.RoutingPath, " → "))
		fmt.Printf("  Risk score:  %.1f\n", tx.RiskScore)
		return nil
	},
}

func init() {
	transferCmd.Flags().StringVar(&transferRail, "rail", "", "settlement rail (default fast_rail)")
}

// ── rails ────────────────────────────────────────────────────────────────────

var railsCmd = &cobra.Command{
	Use:   "rails",
	Short: "List the active settlement rails",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		rails, err := c.Rails(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rails)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLATENCY\tSECURITY\tPOLICIES")
		for _, r := range rails {
			fmt.Fprintf(w, "%s\t%s\t%dms\t%s\t%s\n",
				r.ID, r.Name, r.LatencyMs, r.SecurityLevel, strings.Join(r.Policies, ","))
		}
		return w.Flush()
	},
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditAsc bool

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the audit chain (newest first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		entries, err := c.Audit(ctx, !auditAsc)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(entries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTIME\tENTITY\tEVENT\tHASH")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.EntityID, e.EventType, shortHash(e.Hash))
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditAsc, "asc", false, "oldest entry first")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12] + "…"
	}
	return h
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the integrity of the audit chain and the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		auditRes, err := c.VerifyAudit(ctx)
		if err != nil {
			return err
		}
		ledgerRes, err := c.VerifyLedger(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]any{"audit": auditRes, "ledger": ledgerRes})
		}
		report("audit chain", auditRes)
		report("ledger", ledgerRes)
		if !auditRes.Valid || !ledgerRes.Valid {
			return fmt.Errorf("integrity check failed")
		}
		return nil
	},
}

func report(name string, v *client.Verification) {
	if v.Valid {
		fmt.Printf("✓ %s intact\n", name)
		return
	}
	fmt.Printf("✗ %s compromised: %s\n", name, v.Error)
}

// ── generate ─────────────────────────────────────────────────────────────────

var (
	genGenre string
	genMood  string
	genTempo int
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Synthesize a composition from a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		comp, err := c.Compose(ctx, client.CompositionRequest{
			Prompt: strings.Join(args, " "),
			Genre:  genGenre,
			Mood:   genMood,
			Tempo:  genTempo,
		})
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		if jsonOut {
			return printJSON(comp)
		}
		fmt.Printf("♪ %s\n\n", comp.Title)
		fmt.Printf("  %s\n\n", comp.Description)
		fmt.Printf("  Genre:    %s / %s\n", comp.Genre, comp.Mood)
		fmt.Printf("  Tempo:    %d BPM in %s\n", comp.Tempo, comp.KeySignature)
		fmt.Printf("  Duration: %s\n", time.Duration(comp.DurationSeconds)*time.Second)
		fmt.Printf("  Layers:   %s\n", strings.Join(comp.Instrumentation, ", "))
		fmt.Printf("  Stream:   %s\n", comp.AudioURL)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&genGenre, "genre", "", "genre (default Cyberpunk)")
	generateCmd.Flags().StringVar(&genMood, "mood", "", "mood (default Mysterious)")
	generateCmd.Flags().IntVar(&genTempo, "tempo", 0, "tempo in BPM, 60-180 (default 120)")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sonic CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sonic %s (Sonic Alchemy studio)\n", version)
	},
}
