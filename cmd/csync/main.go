package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"csync-go/internal/app"
	"csync-go/internal/config"
	"csync-go/internal/csync"
	"csync-go/internal/watch"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(app.ExitCode(err))
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Put", "Sync").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	a, err := app.New(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// printResult renders a pipeline result: the per-path report lines first,
// then the committed version (if any).
func printResult(res *csync.Result, dryRun bool) {
	if res == nil {
		return
	}
	res.Report.Write(os.Stdout)
	switch {
	case dryRun:
		fmt.Printf("Dry run: %d change(s), nothing committed\n", csync.ChangeCount(res.Diff))
	case res.Version != nil && res.URL != nil:
		fmt.Printf("%s (version %s)\n", res.URL.String(), shortID(res.Version.ID))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var rootCmd = &cobra.Command{
	Use:           "csync",
	Short:         "Sync local directories into versioned, content-addressed containers",
	SilenceUsage:  true,
	SilenceErrors: false,
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

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Content Store:   %s\n", cfg.Content.Type)
		fmt.Printf("Container Store: %s\n", cfg.Containers.Type)
		fmt.Printf("Upload Limit:    %d bytes\n", cfg.Upload.MaxSize)
		return nil
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put LOCAL [DEST]",
	Short: "Upload a file or directory into a new container",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd, "Put")
		if err != nil {
			return err
		}
		defer a.Close()

		dest := "/"
		if len(args) > 1 {
			dest = args[1]
		}

		res, err := a.Put(args[0], dest, csync.PutOptions{Recursive: recursive, DryRun: dryRun})
		if err != nil {
			return err
		}

		printResult(res, dryRun)
		// Per-file failures leave the operation incomplete and must not
		// exit zero.
		return res.Report.Err()
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync LOCAL URL",
	Short: "Sync a file or directory into an existing container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		del, _ := cmd.Flags().GetBool("delete")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Sync(args[0], args[1], csync.SyncOptions{
			Recursive: recursive,
			Delete:    del,
			DryRun:    dryRun,
		})
		if err != nil {
			return err
		}

		printResult(res, dryRun)
		return res.Report.Err()
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add SOURCE URL",
	Short: "Add a single file or content link to a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd, "Add")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Add(args[0], args[1], force)
		if err != nil {
			return err
		}

		printResult(res, false)
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm URL",
	Short: "Remove an entry or subtree from a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp(cmd, "Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Remove(args[0], recursive)
		if err != nil {
			return err
		}

		printResult(res, false)
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls URL",
	Short: "List a container's entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Fetch")
		if err != nil {
			return err
		}
		defer a.Close()

		version, m, err := a.Fetch(args[0])
		if err != nil {
			return err
		}

		if version != nil {
			fmt.Printf("Version %s (seq %d), %d entries:\n", shortID(version.ID), version.Seq, len(m))
		} else {
			fmt.Println("Container is empty.")
		}
		for _, p := range m.Paths() {
			e := m[p]
			fmt.Printf("%10d  %-24s  %s\n", e.Size, e.MediaType, p)
		}
		return nil
	},
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree URL",
	Short: "Render a container's entries as a tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Fetch")
		if err != nil {
			return err
		}
		defer a.Close()

		version, m, err := a.Fetch(args[0])
		if err != nil {
			return err
		}

		if version == nil {
			fmt.Println("Container is empty.")
			return nil
		}

		fmt.Println("/")
		printTree(buildTree(m.Paths()), "")
		fmt.Printf("\n%d entries, version %s\n", len(m), shortID(version.ID))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.State,
				duration,
			)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch LOCAL URL",
	Short: "Continuously sync a directory into a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		del, _ := cmd.Flags().GetBool("delete")

		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		opts := csync.SyncOptions{Recursive: true, Delete: del}

		// Initial sync so the container reflects the tree before watching.
		res, err := a.SyncOnce(args[0], args[1], opts)
		if err != nil {
			return err
		}
		printResult(res, false)
		if rerr := res.Report.Err(); rerr != nil {
			return rerr
		}

		w, err := watch.New(args[0], 0, a.Logger())
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
		err = w.Run(ctx, func() error {
			res, err := a.SyncOnce(args[0], args[1], opts)
			if err != nil {
				// A conflict means another writer got there first;
				// the next burst re-fetches and re-diffs anyway.
				fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
				return nil
			}
			printResult(res, false)
			if rerr := res.Report.Err(); rerr != nil {
				// Keep watching; the failed files come around again on
				// the next burst.
				fmt.Fprintf(os.Stderr, "sync incomplete: %v\n", rerr)
			}
			return nil
		})
		if err == context.Canceled || err == nil {
			return nil
		}
		return err
	},
}

// treeNode is one directory level of the rendered tree.
type treeNode struct {
	children map[string]*treeNode
	leaf     bool
}

func buildTree(paths []string) *treeNode {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, p := range paths {
		node := root
		parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
		for i, part := range parts {
			child, ok := node.children[part]
			if !ok {
				child = &treeNode{children: map[string]*treeNode{}}
				node.children[part] = child
			}
			if i == len(parts)-1 {
				child.leaf = true
			}
			node = child
		}
	}
	return root
}

func printTree(node *treeNode, indent string) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		connector, childIndent := "├── ", indent+"│   "
		if i == len(names)-1 {
			connector, childIndent = "└── ", indent+"    "
		}
		fmt.Println(indent + connector + name)
		printTree(node.children[name], childIndent)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose console logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(putCmd)
	putCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	putCmd.Flags().Bool("dry-run", false, "Run the pipeline without writing or committing")

	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	syncCmd.Flags().BoolP("delete", "d", false, "Remove remote entries missing locally (requires --recursive)")
	syncCmd.Flags().Bool("dry-run", false, "Run the pipeline without writing or committing")

	rootCmd.AddCommand(addCmd)
	addCmd.Flags().BoolP("force", "f", false, "Replace an existing entry at the target path")

	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolP("recursive", "r", false, "Remove a whole subtree")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(treeCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolP("delete", "d", false, "Remove remote entries missing locally")
}
