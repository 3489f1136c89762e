// Package main provides the temporaldb CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/myayush/temporal-db/config"
	"github.com/myayush/temporal-db/merkle"
	"github.com/myayush/temporal-db/vcs"
)

const defaultConfigFile = ".temporaldb.yaml"

var (
	flagConfig  string
	flagData    string
	flagName    string
	flagBranch  string
	flagMessage string
	flagFile    string
	flagAt      int64
	flagResolve []string
	flagDryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "temporaldb",
	Short: "Git-like version control for JSON documents",
	Long:  `temporaldb stores JSON documents as content-addressed snapshots with branches, history, time travel and three-way merge.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database with a main branch",
	RunE:  runInit,
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit a JSON document read from a file or stdin",
	RunE:  runCommit,
}

var showCmd = &cobra.Command{
	Use:   "show [branch]",
	Short: "Print the data at a branch head, or at a point in time with --at",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

var logCmd = &cobra.Command{
	Use:   "log [branch]",
	Short: "List the commits of a branch, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLog,
}

var branchCmd = &cobra.Command{
	Use:   "branch <name> [src]",
	Short: "Create a branch from the head of src (default: current branch)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runBranch,
}

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches",
	RunE:  runBranches,
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <name>",
	Short: "Switch HEAD to a branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckout,
}

var deleteBranchCmd = &cobra.Command{
	Use:   "delete-branch <name>",
	Short: "Delete a branch ref",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteBranch,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source> [target]",
	Short: "Three-way merge of source into target (default: current branch)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runMerge,
}

var diffCmd = &cobra.Command{
	Use:   "diff <commit> <commit>",
	Short: "Path diff between the data of two commits",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <commit> <commit>",
	Short: "Structural Merkle diff between two commits",
	Args:  cobra.ExactArgs(2),
	RunE:  runInspect,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigFile, "config file")
	rootCmd.PersistentFlags().StringVar(&flagData, "data", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagName, "name", "", "database name (overrides config)")

	commitCmd.Flags().StringVarP(&flagFile, "file", "f", "", "JSON file to commit (default: stdin)")
	commitCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "commit message")
	commitCmd.Flags().StringVarP(&flagBranch, "branch", "b", "", "branch to commit to (default: current)")

	showCmd.Flags().Int64Var(&flagAt, "at", 0, "show data at this unix-millisecond timestamp")

	mergeCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "merge commit message")
	mergeCmd.Flags().StringArrayVar(&flagResolve, "resolve", nil, "conflict resolution path=json-value (repeatable)")
	mergeCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "compute the merge but do not commit")

	rootCmd.AddCommand(initCmd, commitCmd, showCmd, logCmd, branchCmd, branchesCmd,
		checkoutCmd, deleteBranchCmd, mergeCmd, diffCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openEngine opens and initializes the engine from config plus flag
// overrides.
func openEngine() (*vcs.Engine, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagData != "" {
		cfg.DataDir = flagData
	}
	if flagName != "" {
		cfg.Database = flagName
	}

	engine, err := vcs.Open(cfg.DataDir, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := engine.Init(); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	branch, err := engine.CurrentBranch()
	if err != nil {
		return err
	}
	fmt.Printf("initialized database %q on branch %s\n", engine.Name(), branch)
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	var input []byte
	var err error
	if flagFile != "" {
		input, err = os.ReadFile(flagFile)
	} else {
		input, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	var data interface{}
	if err := json.Unmarshal(input, &data); err != nil {
		return fmt.Errorf("parsing input JSON: %w", err)
	}

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	c, err := engine.Commit(flagBranch, data, flagMessage)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] %s %s\n", c.Branch, shortHash(c.Hash), c.Message)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	branch := ""
	if len(args) == 1 {
		branch = args[0]
	}

	var data interface{}
	if flagAt != 0 {
		data, err = engine.DataAt(branch, flagAt)
	} else if branch != "" {
		data, err = engine.BranchData(branch)
	} else {
		data, err = engine.Data()
	}
	if err != nil {
		return err
	}
	return printJSON(data)
}

func runLog(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	branch := ""
	if len(args) == 1 {
		branch = args[0]
	}
	commits, err := engine.History(branch)
	if err != nil {
		return err
	}

	for _, c := range commits {
		when := time.UnixMilli(c.Timestamp).Format(time.RFC3339)
		fmt.Printf("%s  %s  %s\n", shortHash(c.Hash), when, c.Message)
	}
	return nil
}

func runBranch(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	src := ""
	if len(args) == 2 {
		src = args[1]
	}
	if err := engine.Branch(args[0], src); err != nil {
		return err
	}
	fmt.Printf("created branch %s\n", args[0])
	return nil
}

func runBranches(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	current, err := engine.CurrentBranch()
	if err != nil {
		return err
	}
	branches, err := engine.ListBranches()
	if err != nil {
		return err
	}
	for _, b := range branches {
		marker := "  "
		if b == current {
			marker = "* "
		}
		fmt.Println(marker + b)
	}
	return nil
}

func runCheckout(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Checkout(args[0]); err != nil {
		return err
	}
	fmt.Printf("switched to branch %s\n", args[0])
	return nil
}

func runDeleteBranch(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.DeleteBranch(args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted branch %s\n", args[0])
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	target := ""
	if len(args) == 2 {
		target = args[1]
	}

	result, err := engine.Merge(args[0], target)
	if err != nil {
		return err
	}

	if flagDryRun {
		fmt.Printf("merge %s -> %s: %d conflicts\n", result.Source, result.Target, len(result.Conflicts))
		for _, c := range result.Conflicts {
			fmt.Printf("  conflict at %s\n", c.Path)
		}
		return result.Abort()
	}

	if len(result.Conflicts) == 0 {
		c, err := result.Apply(flagMessage)
		if err != nil {
			return err
		}
		fmt.Printf("[%s] %s %s\n", c.Branch, shortHash(c.Hash), c.Message)
		return nil
	}

	resolutions, err := parseResolutions(flagResolve)
	if err != nil {
		return err
	}
	if len(resolutions) == 0 {
		for _, c := range result.Conflicts {
			fmt.Printf("conflict at %s (source=%s target=%s)\n", c.Path, compactJSON(c.Source), compactJSON(c.Target))
		}
		if err := result.Abort(); err != nil {
			return err
		}
		return fmt.Errorf("merge has %d conflicts; re-run with --resolve path=value", len(result.Conflicts))
	}

	c, err := result.ResolveWith(resolutions, flagMessage)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] %s %s\n", c.Branch, shortHash(c.Hash), c.Message)
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	oldData, err := engine.DataAtCommit(args[0])
	if err != nil {
		return err
	}
	newData, err := engine.DataAtCommit(args[1])
	if err != nil {
		return err
	}

	d, err := vcs.Diff(oldData, newData)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func runInspect(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	d, err := engine.TreeDiff(args[0], args[1])
	if err != nil {
		return err
	}

	touched := make([]string, 0, len(d.Added)+len(d.Modified)+len(d.Deleted))
	touched = append(touched, d.Added...)
	touched = append(touched, d.Modified...)
	touched = append(touched, d.Deleted...)

	fmt.Printf("added:    %s\n", strings.Join(d.Added, ", "))
	fmt.Printf("modified: %s\n", strings.Join(d.Modified, ", "))
	fmt.Printf("deleted:  %s\n", strings.Join(d.Deleted, ", "))
	if len(touched) > 0 {
		fmt.Printf("common prefix: %s\n", merkle.CommonPrefix(touched))
	}
	return nil
}

// parseResolutions parses repeated path=json-value flags.
func parseResolutions(specs []string) (map[string]interface{}, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(specs))
	for _, spec := range specs {
		path, raw, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --resolve %q, want path=json-value", spec)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			// Bare words resolve as strings.
			value = raw
		}
		out[path] = value
	}
	return out, nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
