// Command sonet collects social-media posts matching search queries and
// stores them in MongoDB.
//
//	sonet search  <query>   print the newest posts for a query
//	sonet fsearch <file>    search every query in a file (one per line)
//	sonet insert  <query>   collect and store posts for a query
//	sonet finsert <file>    collect and store posts for every query in a file
//	sonet export  <file>    write stored posts to a ;-separated CSV file
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/sonet/pkg/config"
	"github.com/Sternrassler/sonet/pkg/credentials"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, newApp(os.Stdout), os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes the command line in args and returns the process exit code.
func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps configuration problems to 2 and everything else to 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, credentials.ErrEmptyPool),
		errors.Is(err, credentials.ErrMissingSecret):
		return exitConfig
	default:
		return exitFailed
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sonet",
		Short:         "Collect social-media posts into MongoDB",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath, "configuration file")
	flags.StringVar(&a.authPath, "auth", "", "file whose auth section replaces the configured credentials")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the configuration")
	flags.BoolVar(&a.logPretty, "log-pretty", false, "human-readable console logs")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	root.AddCommand(
		newSearchCmd(a),
		newFSearchCmd(a),
		newInsertCmd(a),
		newFInsertCmd(a),
		newExportCmd(a),
	)
	return root
}

func newSearchCmd(a *app) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the newest posts matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			return env.runSearch(cmd.Context(), args[0], n)
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 1, "number of posts to return")
	addIgnoredCollectionFlag(cmd)
	return cmd
}

func newFSearchCmd(a *app) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "fsearch <file>",
		Short: "Search every query in a file, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readQueries(args[0])
			if err != nil {
				return err
			}
			env, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			for _, q := range queries {
				if err := env.runSearch(cmd.Context(), q, n); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 1, "number of posts to return per query")
	addIgnoredCollectionFlag(cmd)
	return cmd
}

// addIgnoredCollectionFlag accepts -c on the search commands so they share
// the insert commands' command line. Searches never store anything.
func addIgnoredCollectionFlag(cmd *cobra.Command) {
	var collection string
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "accepted for symmetry with insert, ignored")
}

func newInsertCmd(a *app) *cobra.Command {
	var (
		n          int
		collection string
	)
	cmd := &cobra.Command{
		Use:   "insert <query>",
		Short: "Collect posts matching a query and store them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			return env.runInsert(cmd.Context(), args[0], n, collection)
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 0, "stop after this many posts (0 = no limit)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "target collection (default from configuration)")
	return cmd
}

func newFInsertCmd(a *app) *cobra.Command {
	var (
		n          int
		collection string
	)
	cmd := &cobra.Command{
		Use:   "finsert <file>",
		Short: "Collect and store posts for every query in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readQueries(args[0])
			if err != nil {
				return err
			}
			env, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			for _, q := range queries {
				if err := env.runInsert(cmd.Context(), q, n, collection); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 0, "stop after this many posts per query (0 = no limit)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "target collection (default from configuration)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		num        int
		collection string
	)
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write stored posts to a ;-separated CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			return env.runExport(cmd.Context(), args[0], num, collection)
		},
	}
	cmd.Flags().IntVar(&num, "num", 0, "number of posts to export (0 = all)")
	cmd.Flags().StringVar(&collection, "collection", "", "collection to export (default from configuration)")
	return cmd
}
