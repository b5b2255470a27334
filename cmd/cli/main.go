package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/auth"
	"github.com/iho/presaleledger/internal/infrastructure/postgres"
)

type options struct {
	baseURL string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "presale-cli",
		Short:         "Presale ledger CLI tool",
		Long:          `A command line interface for operating the presale ledger API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("PRESALE_URL", "http://localhost:8080"), "Base URL of the presale API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PRESALE_TOKEN"), "Bearer token for the API")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(ledgerCmd(opts), stageCmd(opts), accountCmd(opts), tokenCmd(), migrateCmd())
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConsistency(cmd, opts)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile <account-id>",
		Short: "Replay one account's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/accounts/"+args[0]+"/reconcile")
		},
	})

	return cmd
}

func stageCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Presale stage operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the active stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/presale/stage")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/presale/stages")
		},
	})

	return cmd
}

func accountCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <account-id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/accounts/"+args[0])
		},
	})

	return cmd
}

// tokenCmd signs operator tokens locally with the server's JWT secret.
func tokenCmd() *cobra.Command {
	var (
		secret   string
		email    string
		role     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator token operations",
	}

	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Sign an operator token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewJWTManager(secret, duration).Generate(&domain.User{
				ID:    args[0],
				Email: email,
				Role:  domain.Role(role),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	issue.Flags().StringVar(&email, "email", "", "Operator email")
	issue.Flags().StringVar(&role, "role", string(domain.RoleViewer), "admin, operator or viewer")
	issue.Flags().DurationVar(&duration, "ttl", 24*time.Hour, "Token lifetime")

	cmd.AddCommand(issue)
	return cmd
}

func migrateCmd() *cobra.Command {
	var databaseURL, path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&path, "path", envOr("MIGRATIONS_PATH", "migrations"), "Migrations directory")

	migrator := func(cmd *cobra.Command) *postgres.Migrator {
		l := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
		return postgres.NewMigrator(databaseURL, path, l)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrator(cmd).Up()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrator(cmd).Down()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, dirty, err := migrator(cmd).Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %v\n", version, dirty)
			return nil
		},
	})

	return cmd
}

func get(opts *options, path string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(opts.baseURL, "/")+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	client := &http.Client{Timeout: opts.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func getAndPrint(cmd *cobra.Command, opts *options, path string) error {
	status, body, err := get(opts, path)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("request failed (status %d): %s", status, truncate(strings.TrimSpace(string(body)), 200))
	}
	return printJSON(cmd.OutOrStdout(), body)
}

func checkConsistency(cmd *cobra.Command, opts *options) error {
	status, body, err := get(opts, "/api/v1/ledger/consistency")
	if err != nil {
		return err
	}

	var report struct {
		TotalAccounts      int  `json:"total_accounts"`
		ReconciledAccounts int  `json:"reconciled_accounts"`
		LedgerConsistent   bool `json:"ledger_consistent"`
	}
	if status == http.StatusOK || status == http.StatusConflict {
		if err := json.Unmarshal(body, &report); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if status != http.StatusOK || !report.LedgerConsistent {
		fmt.Fprintf(out, "Consistency check FAILED (status: %d)\n", status)
		_ = printJSON(out, body)
		return fmt.Errorf("ledger is inconsistent")
	}

	fmt.Fprintln(out, "Consistency check PASSED")
	fmt.Fprintf(out, "Accounts reconciled: %d/%d\n", report.ReconciledAccounts, report.TotalAccounts)
	return nil
}

func printJSON(w io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
