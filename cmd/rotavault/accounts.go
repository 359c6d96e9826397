package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/rotavault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/rotavault/internal/config"
	"github.com/ericfisherdev/rotavault/internal/domain/model"
)

func newAccountsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect stored accounts",
	}
	cmd.AddCommand(newAccountsListCommand(c))
	return cmd
}

func newAccountsListCommand(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts without secrets",
		Long: `List accounts straight from the database. The listing is read-only;
changes go through the daemon's API so that its timers stay in step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := loadAccountViews(cmd, c.cfg)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			return printAccounts(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func loadAccountViews(cmd *cobra.Command, cfg *config.Config) ([]model.AccountView, error) {
	if err := requireExisting(cfg); err != nil {
		return nil, err
	}

	v, err := openVault(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqliteadapter.NewDB(cmd.Context(), cfg.DBPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	if _, err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return nil, err
	}

	clk := clockwork.NewRealClock()
	accounts, err := sqliteadapter.NewAccountRepo(db, v, clk).List(cmd.Context())
	if err != nil {
		return nil, err
	}

	now := clk.Now()
	return lo.Map(accounts, func(a model.Account, _ int) model.AccountView { return a.View(now) }), nil
}

// requireExisting refuses to run against a missing database or key file,
// which would otherwise be created empty.
func requireExisting(cfg *config.Config) error {
	paths := []string{cfg.DBPath}
	if cfg.KeySource == config.KeySourceFile {
		paths = append(paths, cfg.KeyPath)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s does not exist; start the daemon or run keygen first", p)
		}
	}
	return nil
}

func printAccounts(w io.Writer, views []model.AccountView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOGIN\tNICKNAME\tROTATION\tLAST ROTATED\tNEXT ROTATION\tREMAINING")
	for _, v := range views {
		rotation := "off"
		if v.RotationEnabled {
			rotation = fmt.Sprintf("every %dh", v.RotationIntervalHours)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Login, v.Nickname, rotation,
			formatWhen(v.LastRotationAt), formatWhen(v.NextRotationAt), formatRemaining(v.TimeRemaining))
	}
	return tw.Flush()
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatRemaining(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.Truncate(time.Minute).String()
}
