// Package cli implements reviewctl, the operator CLI of the review agent.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Timmutegi/ae-tuition-backend/config"
	"github.com/Timmutegi/ae-tuition-backend/internal/app"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/persistence/postgres"
	httpserver "github.com/Timmutegi/ae-tuition-backend/internal/interface/http"
	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// BuildInfo is set by the linker in release builds.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	configFile string
	verbose    bool
	clock      func() time.Time
}

// Execute runs reviewctl with os.Args.
func Execute(ctx context.Context, info BuildInfo) error {
	return NewRootCommand(info).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	return newRootCommand(info, time.Now)
}

func newRootCommand(info BuildInfo, clock func() time.Time) *cobra.Command {
	opts := &rootOptions{clock: clock}

	root := &cobra.Command{
		Use:           "reviewctl",
		Short:         "Operate the five-week review agent.",
		Long:          `reviewctl manages intervention thresholds, runs checks and inspects alerts against the review agent's database.`,
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML config file (overrides "+config.FileEnvVar+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log application activity to stderr")

	root.AddCommand(
		newMigrateCmd(opts),
		newEnsureDefaultCmd(opts),
		newRunCheckCmd(opts),
		newWeeksCmd(opts),
		newThresholdsCmd(opts),
		newAlertsCmd(opts),
		newFlaggedCmd(opts),
		newAuditCmd(opts),
		newTokenCmd(opts),
		newHashKeyCmd(),
		newVersionCmd(info),
	)
	return root
}

// ══════════════════════════════════════════════════════════════════════════════
// SETUP
// ══════════════════════════════════════════════════════════════════════════════

// loadConfig reads the configuration. Commands that never touch the database
// skip validation so they work without AE_DATABASE_URL.
func (o *rootOptions) loadConfig(validate bool) (*config.Config, error) {
	if o.configFile != "" {
		if err := os.Setenv(config.FileEnvVar, o.configFile); err != nil {
			return nil, err
		}
	}
	if validate {
		return config.Load()
	}
	return config.Read()
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withApp connects to the stores, runs fn and tears everything down.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig(true)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, o.logger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// parseDate reads YYYY-MM-DD as noon in loc, keeping the civil date stable.
func parseDate(raw string, loc *time.Location) (time.Time, error) {
	d, err := timeutil.ParseDate(raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return d.Add(12 * time.Hour), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DATABASE COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var status, rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply the embedded schema migrations.

Examples:
  # Apply everything pending
  reviewctl migrate

  # Show what has been applied
  reviewctl migrate --status

  # Revert the latest migration
  reviewctl migrate --rollback`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status && rollback {
				return errors.New("--status and --rollback are mutually exclusive")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				migrator := postgres.NewMigrator(a.DB)
				switch {
				case status:
					migrations, err := migrator.Status(ctx)
					if err != nil {
						return err
					}
					return writeMigrations(cmd.OutOrStdout(), migrations)
				case rollback:
					if err := migrator.Rollback(ctx); err != nil {
						return err
					}
					cmd.Println("Rolled back the latest migration.")
					return nil
				default:
					n, err := a.Migrate(ctx)
					if err != nil {
						return err
					}
					cmd.Printf("Applied %d migration(s).\n", n)
					return nil
				}
			})
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "List migrations and their applied state")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Revert the most recently applied migration")
	return cmd
}

func newEnsureDefaultCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-default",
		Short: "Create the default performance threshold if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.EnsureDefaultThreshold(ctx, opts.clock().UTC())
				if err != nil {
					return err
				}
				verb := "Found"
				if res.Created {
					verb = okColor.Sprint("Created")
				}
				cmd.Printf("%s %q (%s)\n", verb, res.Threshold.Name, res.Threshold.ID)
				return nil
			})
		},
	}
}

func newRunCheckCmd(opts *rootOptions) *cobra.Command {
	var student, at string

	cmd := &cobra.Command{
		Use:   "run-check",
		Short: "Run the intervention check now",
		Long: `Evaluate the review window and raise alerts, exactly as the nightly job does.

Examples:
  # Full sweep for the current week
  reviewctl run-check

  # One student, as of a given date
  reviewctl run-check --student 3f0e... --at 2025-11-14`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				c := command.RunInterventionCheckCommand{
					Now:           opts.clock().UTC(),
					CorrelationID: "cli-" + uuid.NewString(),
				}
				if at != "" {
					now, err := parseDate(at, a.Calendar.Location())
					if err != nil {
						return err
					}
					c.Now = now
				}
				if student != "" {
					id, err := uuid.Parse(student)
					if err != nil {
						return fmt.Errorf("invalid --student: %w", err)
					}
					c.StudentID = &id
				}

				res, err := a.RunCheck.Handle(ctx, c)
				if err != nil {
					return err
				}
				// Let teacher notifications finish before the bus closes.
				a.Bus.Wait()
				return writeCheckResult(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&student, "student", "", "Check a single student by id")
	cmd.Flags().StringVar(&at, "at", "", "Reference date (YYYY-MM-DD) instead of today")
	return cmd
}

func newThresholdsCmd(opts *rootOptions) *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "List intervention thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.ListThresholds.Handle(ctx, active)
				if err != nil {
					return err
				}
				return writeThresholds(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "Only list active thresholds")
	return cmd
}

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	var status, subject string
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List intervention alerts",
		Long: `List alerts across every class, newest first.

Examples:
  # Alerts waiting for a teacher
  reviewctl alerts --status pending

  # Second page of maths alerts
  reviewctl alerts --subject Maths --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := query.ListAlertsQuery{
				Actor:    intervention.Actor{Role: intervention.RoleAdmin},
				Subject:  strings.TrimSpace(subject),
				Page:     page,
				PageSize: pageSize,
			}
			if status != "" {
				s, err := intervention.ParseStatus(status)
				if err != nil {
					return err
				}
				q.Status = s
			}
			if q.Subject != "" && !intervention.IsTrackedSubject(q.Subject) {
				return fmt.Errorf("subject must be one of %s", strings.Join(intervention.TrackedSubjects(), ", "))
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.ListAlerts.Handle(ctx, q)
				if err != nil {
					return err
				}
				return writeAlerts(cmd.OutOrStdout(), res.Alerts, res.Total)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, in_progress, resolved, dismissed)")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by subject")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Alerts per page")
	return cmd
}

func newFlaggedCmd(opts *rootOptions) *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "flagged",
		Short: "List students with active alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := query.ListFlaggedStudentsQuery{
				Actor:    intervention.Actor{Role: intervention.RoleAdmin},
				Page:     page,
				PageSize: pageSize,
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.ListFlagged.Handle(ctx, q)
				if err != nil {
					return err
				}
				return writeFlagged(cmd.OutOrStdout(), res.Students, res.Total)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Students per page")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var action, actorID, alertID, since string
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Search the alert audit log",
		Long: `Search audit entries across every alert, newest first.

Examples:
  # Approvals by one teacher since the start of December
  reviewctl audit --action approve --actor 5d1c... --since 2025-12-01

  # Notification failures
  reviewctl audit --action notify_failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := query.ListAuditQuery{
				Actor:    intervention.Actor{Role: intervention.RoleAdmin},
				Page:     page,
				PageSize: pageSize,
			}
			var err error
			if action != "" {
				if q.Action, err = intervention.ParseAction(action); err != nil {
					return err
				}
			}
			if q.ActorID, err = uuidFlag(actorID, "--actor"); err != nil {
				return err
			}
			if q.AlertID, err = uuidFlag(alertID, "--alert"); err != nil {
				return err
			}
			if since != "" {
				d, err := timeutil.ParseDate(since, timeutil.LondonTZ)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", since)
				}
				q.Since = d
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.ListAudit.Handle(ctx, q)
				if err != nil {
					return err
				}
				return writeAudit(cmd.OutOrStdout(), res.Entries, res.Total)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (create, approve, dismiss, resolve, notify_failed)")
	cmd.Flags().StringVar(&actorID, "actor", "", "Filter by acting user id")
	cmd.Flags().StringVar(&alertID, "alert", "", "Filter by alert id")
	cmd.Flags().StringVar(&since, "since", "", "Only entries on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "Entries per page")
	return cmd
}

func uuidFlag(raw, name string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an id", name)
	}
	return &id, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OFFLINE COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func newWeeksCmd(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "weeks",
		Short: "Print the academic calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			cal, err := cfg.Calendar.Build()
			if err != nil {
				return err
			}

			at := opts.clock()
			if date != "" {
				if at, err = parseDate(date, cal.Location()); err != nil {
					return err
				}
			}
			current := cal.CurrentWeek(at)
			if err := writeWeeks(cmd.OutOrStdout(), cal.Weeks(), current); err != nil {
				return err
			}
			if current == 0 {
				cmd.Printf("%s is outside the academic year.\n", at.In(cal.Location()).Format(timeutil.FormatDate))
			} else {
				cmd.Printf("%s falls in %s.\n", at.In(cal.Location()).Format(timeutil.FormatDate), cal.Label(current))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Mark the week containing this date (YYYY-MM-DD)")
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var user, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Sign a bearer token with the configured auth.jwt_secret, for local testing
and service accounts.

Examples:
  reviewctl token --user 5d1c... --role teacher --ttl 8h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret (AE_AUTH_JWT_SECRET) is not set")
			}

			id, err := uuid.Parse(user)
			if err != nil || id == uuid.Nil {
				return fmt.Errorf("--user must be a user id")
			}
			r := intervention.Role(strings.ToLower(role))
			if r != intervention.RoleAdmin && r != intervention.RoleTeacher {
				return fmt.Errorf("--role must be admin or teacher")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}

			auth := httpserver.NewAuthenticator(httpserver.AuthConfig{
				JWTSecret: cfg.Auth.JWTSecret,
				Issuer:    cfg.Auth.JWTIssuer,
			})
			token, err := auth.IssueToken(intervention.Actor{UserID: id, Role: r}, ttl, opts.clock())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(intervention.RoleAdmin), "Role claim: admin or teacher")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Hash a service API key for auth.service_key_hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := httpserver.HashServiceKey(args[0], cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the library default)")
	return cmd
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("reviewctl\n")
			cmd.Printf("  Version: %s\n", info.Version)
			cmd.Printf("  Commit:  %s\n", info.Commit)
			cmd.Printf("  Built:   %s\n", info.Date)
			cmd.Printf("  Runtime: %s\n", runtime.Version())
		},
	}
}
