// Package cli implements the labbook command-line entrypoint: creating,
// publishing, and syncing LabBooks, and running the dispatcher worker pool,
// all wired from the typed config in internal/config. Adapted from the
// teacher's cobra-based root command, replacing its HTTP-server/RabbitMQ/
// CouchDB service wiring with the LabBook components this module actually
// implements.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"gitmine.dev/labbook/internal/config"
	"gitmine.dev/labbook/internal/coordinator"
	"gitmine.dev/labbook/internal/coordinator/boltstore"
	"gitmine.dev/labbook/internal/dispatcher"
	"gitmine.dev/labbook/internal/dispatcher/memqueue"
	"gitmine.dev/labbook/internal/labbook"
	"gitmine.dev/labbook/internal/obslog"
	"gitmine.dev/labbook/internal/opstate"
	"gitmine.dev/labbook/internal/portlock"
	"gitmine.dev/labbook/internal/workflow"
)

var (
	logLevel string
	logFmt   string
)

// RootCmd is the labbook CLI's top-level command.
var RootCmd = &cobra.Command{
	Use:   "labbook",
	Short: "manage version-controlled interactive-computation LabBooks",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&logFmt, "log-format", "text", "log format: text or json")

	RootCmd.AddCommand(newCmd, publishCmd, syncCmd, portsResetCmd, workerRunCmd)
}

func rootLogger() *obslog.Logger {
	root := obslog.New(obslog.Config{Level: logLevel, Format: logFmt})
	return obslog.Component(root, "cli")
}

var tracker = opstate.New(0)

func track(labbookKey, op string, fn func() error) error {
	id := uuid.NewString()
	tracker.Start(id, labbookKey, op)
	err := fn()
	tracker.Finish(id, err)
	return err
}

var newCmd = &cobra.Command{
	Use:   "new <user> <owner> <name>",
	Short: "create a new empty LabBook",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := rootLogger()
		cfg := config.Default()
		id := labbook.Identity{User: args[0], Owner: args[1], Name: args[2]}
		description, _ := cmd.Flags().GetString("description")

		return track(id.Key(), "new", func() error {
			lb, err := labbook.New(cfg, id, description, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created labbook %s at %s\n", id.Key(), lb.RootPath)
			return nil
		})
	},
}

func init() {
	newCmd.Flags().String("description", "", "human-readable description")
}

var publishCmd = &cobra.Command{
	Use:   "publish <labbook-path>",
	Short: "merge the active user branch into gm.workspace and push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := rootLogger()
		cfg := config.Default()
		user, _ := cmd.Flags().GetString("user")
		remote, _ := cmd.Flags().GetString("remote")

		lb, err := labbook.FromDirectory(cfg, args[0], log)
		if err != nil {
			return err
		}
		engine := workflow.New(lb.Repo(), log)
		return track(lb.Identity.Key(), "publish", func() error {
			return engine.Publish(cmd.Context(), user, remote)
		})
	},
}

func init() {
	publishCmd.Flags().String("user", "", "username whose gm.workspace-<user> branch is active")
	publishCmd.Flags().String("remote", "origin", "git remote to publish to")
	publishCmd.MarkFlagRequired("user")
}

var syncCmd = &cobra.Command{
	Use:   "sync <labbook-path>",
	Short: "pull gm.workspace and fold the user branch back in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := rootLogger()
		cfg := config.Default()
		user, _ := cmd.Flags().GetString("user")
		remote, _ := cmd.Flags().GetString("remote")
		force, _ := cmd.Flags().GetBool("force")

		lb, err := labbook.FromDirectory(cfg, args[0], log)
		if err != nil {
			return err
		}
		engine := workflow.New(lb.Repo(), log)
		return track(lb.Identity.Key(), "sync", func() error {
			return engine.Sync(cmd.Context(), user, remote, force)
		})
	},
}

func init() {
	syncCmd.Flags().String("user", "", "username whose gm.workspace-<user> branch is active")
	syncCmd.Flags().String("remote", "", "git remote to sync with (empty: local-only sync)")
	syncCmd.Flags().Bool("force", false, "prefer the remote's side on conflict (-X theirs)")
	syncCmd.MarkFlagRequired("user")
}

func openCoordinator(cfg config.Config) (coordinator.Store, error) {
	switch cfg.Coordinator.Backend {
	case "bolt", "":
		path, err := homedir.Expand(cfg.Coordinator.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("expand coordinator bolt path: %w", err)
		}
		return boltstore.Open(path)
	default:
		return nil, fmt.Errorf("unsupported coordinator backend %q", cfg.Coordinator.Backend)
	}
}

var portsResetCmd = &cobra.Command{
	Use:   "ports-reset",
	Short: "remove every hostport:* coordinator record, recovering from a crash",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := rootLogger()
		cfg := config.Default()
		store, err := openCoordinator(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		locks := portlock.New(store, cfg.Lock, log)
		ports := portlock.NewPortManager(store, locks, log)
		return ports.ResetAllPorts(cmd.Context())
	},
}

var workerRunCmd = &cobra.Command{
	Use:   "worker-run",
	Short: "run the dispatcher worker pool until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := rootLogger()
		queueName, _ := cmd.Flags().GetString("queue")
		workers, _ := cmd.Flags().GetInt("workers")

		q := memqueue.New()
		d := dispatcher.New(q, log)
		pool := dispatcher.NewPool(d, dispatcher.PoolConfig{Queues: map[string]int{queueName: workers}})

		ctx := cmd.Context()
		pool.Start(ctx)
		<-ctx.Done()
		pool.Stop()
		return nil
	},
}

func init() {
	workerRunCmd.Flags().String("queue", "default", "queue name to drain")
	workerRunCmd.Flags().Int("workers", 1, "number of worker goroutines")
}

// Execute runs the root command, returning its error rather than exiting the
// process — main decides what to do with it.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}
