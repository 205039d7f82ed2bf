package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/artpar/botctl/internal/core/domain"
	"github.com/artpar/botctl/internal/engine"
	"github.com/spf13/cobra"
)

// defaultConfigPath is read when neither --config nor BOTCTL_CONFIG is set.
const defaultConfigPath = "/etc/botctl/config.yaml"

// cli holds the state shared by all commands of one invocation.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	open    openFunc
	geteuid func() int

	configPath string
	root       string
	logLevel   string

	cfg    *Config
	logger *slog.Logger
	prompt *Prompter
}

func newCLI(in io.Reader, out, errOut io.Writer) *cli {
	return &cli{
		in:      in,
		out:     out,
		errOut:  errOut,
		open:    openManager,
		geteuid: os.Geteuid,
	}
}

// execute runs the command line args and returns the process exit code.
func (c *cli) execute(ctx context.Context, args []string) int {
	cmd := c.rootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: %v\n", err)
	}
	return exitCode(err)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "botctl",
		Short: "Run isolated Telegram bot instances on this host",
		Long: `botctl installs, removes, lists, restarts and follows the logs of
Telegram bot instances. Each instance gets its own workspace directory,
container, image, network and data volume, so instances never share state.`,
		Args:              argsWithin(0),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", domain.ErrInput, err)
	})

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&c.root, "root", "", "workspace root directory")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		c.installCmd(),
		c.removeCmd(),
		c.listCmd(),
		c.statusCmd(),
		c.restartCmd(),
		c.logsCmd(),
		c.historyCmd(),
		c.versionCmd(),
	)
	return root
}

// setup loads configuration and prepares logging before any command runs.
func (c *cli) setup(_ *cobra.Command, _ []string) error {
	path := c.configPath
	if path == "" {
		path = os.Getenv("BOTCTL_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if c.root != "" {
		cfg.Workspace.Root = c.root
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = SetupLogger(cfg, c.errOut)
	if c.prompt == nil {
		c.prompt = NewPrompter(c.in, c.errOut)
	}
	return nil
}

// backend checks privileges and opens the lifecycle manager.
func (c *cli) backend(ctx context.Context) (lifecycle, func() error, error) {
	if c.cfg.Security.RequireRoot && c.geteuid() != 0 {
		return nil, nil, fmt.Errorf("%w: botctl must run as root (set security.require_root=false to skip this check)", domain.ErrPermission)
	}
	return c.open(ctx, c.cfg, c.errOut, c.logger)
}

// withBackend runs fn against an opened backend and closes it afterwards.
func (c *cli) withBackend(ctx context.Context, fn func(lc lifecycle) error) error {
	lc, closeFn, err := c.backend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			c.logger.Debug("closing backend failed", "error", cerr)
		}
	}()
	return fn(lc)
}

// selectInstance returns the instance named in args, or asks the operator
// to pick one of the installed instances.
func (c *cli) selectInstance(ctx context.Context, lc lifecycle, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if !c.prompt.Interactive() {
		return "", fmt.Errorf("%w: instance name is required", domain.ErrInput)
	}
	items, err := lc.List(ctx)
	if err != nil {
		return "", err
	}
	slugs := make([]string, 0, len(items))
	for _, it := range items {
		slugs = append(slugs, it.Slug)
	}
	return c.prompt.Choose("Select instance", slugs)
}

// argsWithin accepts at most n positional arguments.
func argsWithin(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			if n == 0 {
				return fmt.Errorf("%w: unknown command %q for %q", domain.ErrInput, args[0], cmd.CommandPath())
			}
			return fmt.Errorf("%w: %s accepts at most %d argument(s), got %d", domain.ErrInput, cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// =============================================================================
// install
// =============================================================================

func (c *cli) installCmd() *cobra.Command {
	var (
		token       string
		admins      string
		timezone    string
		maxBackupMB int
		source      string
		overwrite   bool
	)

	cmd := &cobra.Command{
		Use:   "install [name]",
		Short: "Install or update a bot instance and start it",
		Long: `Install creates the instance workspace, copies the bot application,
writes its configuration and container descriptor, builds the image and
starts the service. Running install again for an existing instance updates
it in place and keeps its data.`,
		Args: argsWithin(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var name string
			if len(args) > 0 {
				name = args[0]
			} else {
				var err error
				if name, err = c.prompt.Ask("Instance name", ""); err != nil {
					return err
				}
			}
			if name == "" {
				return fmt.Errorf("%w: instance name is required", domain.ErrInput)
			}
			if slug := domain.Canonicalize(name); slug != name {
				fmt.Fprintf(c.errOut, "Instance name normalized to %q\n", slug)
			}

			if token == "" {
				var err error
				if token, err = c.prompt.Secret("Bot token"); err != nil {
					return err
				}
			}
			if c.prompt.Interactive() {
				var err error
				if !cmd.Flags().Changed("admins") {
					if admins, err = c.prompt.Ask("Admin chat IDs (comma-separated)", ""); err != nil {
						return err
					}
				}
				if !cmd.Flags().Changed("timezone") {
					if timezone, err = c.prompt.Ask("Timezone", c.cfg.Instance.Timezone); err != nil {
						return err
					}
				}
			}

			return c.withBackend(ctx, func(lc lifecycle) error {
				result, err := lc.Install(ctx, engine.InstallRequest{
					Name: name,
					Inputs: domain.InstallInputs{
						BotToken:     token,
						AdminChatIDs: admins,
						Timezone:     timezone,
						MaxBackupMB:  maxBackupMB,
					},
					SourceDir: source,
					Overwrite: overwrite,
				})
				if err != nil {
					return err
				}

				verb := "Updated"
				if result.Created {
					verb = "Installed"
				}
				fmt.Fprintf(c.out, "%s %s\n", verb, result.Slug)
				fmt.Fprintf(c.out, "Workspace: %s\n", result.Workspace)
				fmt.Fprintf(c.out, "Container: %s\n", result.ContainerName)
				if result.DockerfileWritten {
					fmt.Fprintln(c.out, "Default Dockerfile written")
				}
				if len(result.Services) > 0 {
					renderServices(c.out, result.Services)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Telegram bot token (prompted when omitted)")
	cmd.Flags().StringVar(&admins, "admins", "", "comma-separated admin chat IDs")
	cmd.Flags().StringVar(&timezone, "timezone", "", "bot timezone (default from instance.timezone)")
	cmd.Flags().IntVar(&maxBackupMB, "max-backup-mb", 0, "largest backup sent as a document, in MB (default from instance.max_backup_mb)")
	cmd.Flags().StringVar(&source, "source", "", "bot application directory (default from app.source_dir)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an instance configured with a different bot token")
	return cmd
}

// =============================================================================
// remove
// =============================================================================

func (c *cli) removeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "remove [name]",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Stop a bot instance and delete its workspace and data",
		Args:    argsWithin(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBackend(ctx, func(lc lifecycle) error {
				name, err := c.selectInstance(ctx, lc, args)
				if err != nil {
					return err
				}
				slug := domain.Canonicalize(name)
				if _, err := lc.Status(ctx, slug); err != nil {
					return err
				}

				answer := "yes"
				if !yes {
					prompt := fmt.Sprintf("Remove %s and delete all of its data? Type the instance name or yes to confirm", slug)
					if answer, err = c.prompt.Ask(prompt, ""); err != nil {
						return err
					}
				}

				if err := lc.Remove(ctx, slug, answer); err != nil {
					if errors.Is(err, domain.ErrConfirmationAborted) {
						fmt.Fprintln(c.errOut, "Aborted")
					}
					return err
				}
				fmt.Fprintf(c.out, "Removed %s\n", slug)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// =============================================================================
// list / status
// =============================================================================

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List bot instances and their state",
		Args:    argsWithin(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return c.withBackend(ctx, func(lc lifecycle) error {
				items, err := lc.List(ctx)
				if err != nil {
					fmt.Fprintf(c.errOut, "Warning: %v\n", err)
				}
				renderInstances(c.out, lc.Root(), items)
				return nil
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show the state of one bot instance",
		Args:  argsWithin(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBackend(ctx, func(lc lifecycle) error {
				name, err := c.selectInstance(ctx, lc, args)
				if err != nil {
					return err
				}
				summary, err := lc.Status(ctx, name)
				if err != nil {
					return err
				}
				renderInstance(c.out, summary)
				return nil
			})
		},
	}
}

// =============================================================================
// restart / logs
// =============================================================================

func (c *cli) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart [name]",
		Short: "Restart the services of a bot instance",
		Args:  argsWithin(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBackend(ctx, func(lc lifecycle) error {
				name, err := c.selectInstance(ctx, lc, args)
				if err != nil {
					return err
				}
				services, err := lc.Restart(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Restarted %s\n", domain.Canonicalize(name))
				if len(services) > 0 {
					renderServices(c.out, services)
				}
				return nil
			})
		},
	}
}

func (c *cli) logsCmd() *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs [name]",
		Short: "Follow the logs of a bot instance until interrupted",
		Args:  argsWithin(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("tail") {
				tail = c.cfg.Logs.Tail
			}
			if tail < -1 {
				return fmt.Errorf("%w: --tail must be -1 (all) or more, got %d", domain.ErrInput, tail)
			}
			return c.withBackend(ctx, func(lc lifecycle) error {
				name, err := c.selectInstance(ctx, lc, args)
				if err != nil {
					return err
				}
				return lc.Logs(ctx, name, tail, func(line string) {
					fmt.Fprintln(c.out, line)
				})
			})
		},
	}

	cmd.Flags().IntVarP(&tail, "tail", "n", 100, "lines of history to show first, -1 for all (default from logs.tail)")
	return cmd
}

// =============================================================================
// history / version
// =============================================================================

func (c *cli) historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "Show recorded lifecycle operations, newest first",
		Args:  argsWithin(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !c.cfg.Journal.Enabled {
				return &ConfigError{Key: "journal.enabled", Err: errors.New("the operation journal is disabled")}
			}
			var name string
			if len(args) > 0 {
				name = args[0]
			}
			return c.withBackend(ctx, func(lc lifecycle) error {
				entries, err := lc.History(ctx, name, limit)
				if err != nil {
					return err
				}
				renderHistory(c.out, entries)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  argsWithin(0),
		// No configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.out, "botctl %s (built %s)\n", Version, BuildTime)
		},
	}
}
