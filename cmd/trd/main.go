package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"torrentsready/internal/app"
	"torrentsready/internal/config"
	"torrentsready/internal/database"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	return defaults.ReadConfig()
}

// newApp reads the config and creates a TRApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "serve", "submit").
func newApp(ctx context.Context, cmd *cobra.Command, command string) (*app.TRApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewTRApp(ctx, cfg, command, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", what, s)
	}
	return id, nil
}

func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("TR_PASSPHRASE"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "trd",
	Short:        "Shared torrent selection and delivery daemon",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := defaults.NewConfig(instanceID)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := defaults.ReadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Instance ID:      %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:         %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:          %s\n", cfg.LogDir)
		fmt.Printf("Database:         %s\n", cfg.Database.Type)
		fmt.Printf("Engine:           %s (%s)\n", cfg.Engine.Type, cfg.Engine.SavePath)
		fmt.Printf("Outbound:         %s\n", cfg.Outbound.Type)
		fmt.Printf("Max torrent size: %s\n", cfg.Limits.MaxTorrentSize.HumanReadable())
		fmt.Printf("Max active:       %d\n", cfg.Limits.MaxActiveTorrents)
		fmt.Printf("API:              %s\n", cfg.API.Addr)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		defer db.Close()
		if err := db.CheckMigrations(); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, reconciler and delivery workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		deliver, _ := cmd.Flags().GetBool("deliver")

		a, err := newApp(cmd.Context(), cmd, "reconcile")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.ReconcileOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		fmt.Printf("Inspected %d torrent(s), %d content(s) ready, %d delivery(ies) queued\n",
			stats.Torrents, stats.ContentsReady, stats.Enqueued)

		if deliver {
			n, err := a.DeliverDue(cmd.Context())
			if err != nil {
				return fmt.Errorf("delivery failed: %w", err)
			}
			fmt.Printf("Attempted %d delivery(ies)\n", n)
		}
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit MESSENGER_ID MAGNET|FILE",
	Short: "Submit a torrent for a user with every file selected",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mid, err := parseID(args[0], "messenger id")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd, "submit")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Submit(cmd.Context(), mid, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Queued #%d %s: %d file(s), %s\n", res.Torrent.ID, res.Torrent.Title,
			len(res.ContentIDs), humanize.IBytes(uint64(res.TotalSize)))
		return nil
	},
}

// users command
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd, "users list")
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.Service().ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}
		for _, u := range users {
			blocked := ""
			if u.IsBlocked {
				blocked = "  [blocked]"
			}
			fmt.Printf("%-12d  %-20s  %s%s\n", u.MessengerID, u.Username,
				u.CreatedAt.Format("2006-01-02 15:04:05"), blocked)
		}
		return nil
	},
}

var usersConsentCmd = &cobra.Command{
	Use:   "consent MESSENGER_ID",
	Short: "Record that a user can receive deliveries again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mid, err := parseID(args[0], "messenger id")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd, "users consent")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Service().AcknowledgeConsent(cmd.Context(), mid)
		if err != nil {
			return err
		}
		fmt.Printf("Unblocked; %d parked delivery(ies) requeued\n", n)
		return nil
	},
}

// torrents command
var torrentsCmd = &cobra.Command{
	Use:   "torrents",
	Short: "Manage a user's torrents",
}

var torrentsListCmd = &cobra.Command{
	Use:   "list MESSENGER_ID",
	Short: "List a user's active torrents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mid, err := parseID(args[0], "messenger id")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd, "torrents list")
		if err != nil {
			return err
		}
		defer a.Close()

		torrents, err := a.Service().ListActiveTorrents(cmd.Context(), mid)
		if err != nil {
			return err
		}
		if len(torrents) == 0 {
			fmt.Println("No active torrents.")
			return nil
		}
		for _, t := range torrents {
			state := "selecting"
			if t.IsProcessing {
				state = fmt.Sprintf("%d/%d ready", t.Ready, t.Selected)
			}
			fmt.Printf("#%-6d  %-10s  %-14s  %s\n", t.ID, humanize.IBytes(uint64(t.Size)), state, t.Title)
		}
		return nil
	},
}

var torrentsRemoveCmd = &cobra.Command{
	Use:   "remove MESSENGER_ID TORRENT_ID",
	Short: "Remove a torrent from a user's list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mid, err := parseID(args[0], "messenger id")
		if err != nil {
			return err
		}
		tid, err := parseID(args[1], "torrent id")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd, "torrents remove")
		if err != nil {
			return err
		}
		defer a.Close()

		rel, err := a.Service().RemoveTorrent(cmd.Context(), mid, tid)
		if err != nil {
			return err
		}
		if rel.Released {
			fmt.Println("Removed; no other user holds it, downloaded data deleted.")
		} else {
			fmt.Printf("Removed; still shared with %d user(s).\n", rel.Remaining)
		}
		return nil
	},
}

// deliveries command
var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Inspect the delivery queue",
}

var deliveriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd, "deliveries list")
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.Service().ListDeliveries(cmd.Context())
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No deliveries.")
			return nil
		}
		for _, d := range tasks {
			fmt.Printf("#%-6d  user:%-6d  torrent:%-6d  %-10s  attempts:%d  next:%s  %s\n",
				d.ID, d.UserID, d.TorrentID, d.Status, d.Attempts,
				humanize.Time(d.NextAttemptAt), d.LastError)
		}
		return nil
	},
}

var deliveriesRetryCmd = &cobra.Command{
	Use:   "retry DELIVERY_ID",
	Short: "Requeue a failed delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "delivery id")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cmd, "deliveries retry")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().RetryDelivery(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Delivery #%d requeued\n", id)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the delivery key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair that seals deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if strings.TrimSpace(passphrase) == "" {
			return fmt.Errorf("passphrase must not be empty")
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Key pair written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// outbox command
var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Work with delivered artifacts",
}

var outboxOpenCmd = &cobra.Command{
	Use:   "open FILE",
	Short: "Decrypt a sealed delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = strings.TrimSuffix(args[0], ".age")
			if out == args[0] {
				return fmt.Errorf("cannot derive output name from %s; use --output", args[0])
			}
		}

		cfg, err := readConfig()
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		start := time.Now()
		if err := app.OpenArtifact(cfg, passphrase, args[0], out); err != nil {
			return err
		}
		fmt.Printf("Wrote %s in %s\n", out, time.Since(start).Truncate(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// users subcommands
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersConsentCmd)

	// torrents subcommands
	torrentsCmd.AddCommand(torrentsListCmd)
	torrentsCmd.AddCommand(torrentsRemoveCmd)

	// deliveries subcommands
	deliveriesCmd.AddCommand(deliveriesListCmd)
	deliveriesCmd.AddCommand(deliveriesRetryCmd)

	keysCmd.AddCommand(keysInitCmd)
	outboxCmd.AddCommand(outboxOpenCmd)
	outboxOpenCmd.Flags().StringP("output", "o", "", "Where to write the decrypted file")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("deliver", false, "Also attempt every due delivery")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(torrentsCmd)
	rootCmd.AddCommand(deliveriesCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(outboxCmd)
}
