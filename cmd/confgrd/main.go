package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jenian/confgrd/internal/config"
	"github.com/jenian/confgrd/internal/export"
	"github.com/jenian/confgrd/internal/output"
	"github.com/jenian/confgrd/internal/session"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "confgrd",
		Short: "Find inconsistencies across configuration files",
		Long:  "A CLI tool that scans a directory for .env, YAML, JSON and TOML files, flattens their keys and reports duplicate and missing keys.",
	}

	scanCmd = &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a directory for configuration files",
		Long:  "Recursively scan a directory for configuration files and report duplicate keys, keys missing from env files and files that fail to parse.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScan,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [path]",
		Short: "Rescan whenever configuration files change",
		Long:  "Scan a directory, then watch it and print a fresh report every time a configuration file changes. Stop with Ctrl+C.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}

	exportCmd = &cobra.Command{
		Use:   "export [path]",
		Short: "Write every discovered key to one file",
		Long:  "Scan a directory and write the union of all keys to a single env, JSON or YAML file, e.g. a .env.example.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}

	initConfigCmd = &cobra.Command{
		Use:   "init-config",
		Short: "Create a .confgrd.config file in the current directory",
		Long:  "Creates a .confgrd.config file with default configuration in the current directory.",
		RunE:  runInitConfig,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  "Print the version number of confgrd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	// Flags
	jsonOutput   bool
	silent       bool
	debug        bool
	noHeader     bool
	showEntries  bool
	concurrency  int
	exportFormat string
	exportOutput string
	noRedact     bool
)

func init() {
	for _, cmd := range []*cobra.Command{scanCmd, watchCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results in JSON format")
		cmd.Flags().BoolVar(&noHeader, "no-header", false, "Skip printing the header")
		cmd.Flags().BoolVar(&showEntries, "entries", false, "List every entry (secret values are redacted)")
	}
	scanCmd.Flags().BoolVar(&silent, "silent", false, "Silent mode (exit code only)")

	for _, cmd := range []*cobra.Command{scanCmd, watchCmd, exportCmd} {
		cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
		cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Files parsed in parallel (default from config)")
	}

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Export format: env, json or yaml (default from config)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default .env.example, config.example.json or config.example.yaml in the scanned directory)")
	exportCmd.Flags().BoolVar(&noRedact, "no-redact", false, "Keep values of keys that look like secrets")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveRoot returns the absolute scan root from the optional path argument
func resolveRoot(args []string) (string, error) {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return absPath, nil
}

// setup loads the root's config and builds the logger and session
func setup(absPath string, notify func(string)) (*config.Config, *log.Logger, *session.Session) {
	cfg, cfgErr := config.Load(absPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := newLogger(cfg.Log.Level)
	if cfgErr != nil && !silent {
		logger.Warn("failed to load "+config.FileName+", using defaults", "err", cfgErr)
	}

	workers := cfg.Scan.Concurrency
	if concurrency > 0 {
		workers = concurrency
	}

	redact := cfg.Export.RedactSecrets && !noRedact

	sess := session.New(session.Options{
		Concurrency:   workers,
		Logger:        logger,
		Notify:        notify,
		RedactSecrets: redact,
	})
	return cfg, logger, sess
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "confgrd",
	})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if debug {
		lvl = log.DebugLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func runScan(cmd *cobra.Command, args []string) error {
	absPath, err := resolveRoot(args)
	if err != nil {
		return err
	}

	_, _, sess := setup(absPath, nil)
	defer sess.Close()

	if !noHeader && !jsonOutput && !silent {
		printHeader()
	}

	result, err := scanOnce(cmd.Context(), sess, absPath)
	if err != nil {
		return err
	}

	opts := output.Options{JSON: jsonOutput, Silent: silent, ShowEntries: showEntries}
	if err := output.Format(os.Stdout, result, opts); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if output.HasIssues(result) {
		// os.Exit skips deferred calls
		sess.Close()
		os.Exit(1)
	}

	return nil
}

// scanOnce runs one scan and reports progress on stderr
func scanOnce(ctx context.Context, sess *session.Session, absPath string) (*session.ScanResult, error) {
	if !silent {
		fmt.Fprintf(os.Stderr, "Scanning %s...\n", absPath)
	}
	result, err := sess.Scan(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	if !silent {
		fmt.Fprintf(os.Stderr, "%s\n", output.FileCounts(result.Files))
	}
	return result, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	absPath, err := resolveRoot(args)
	if err != nil {
		return err
	}

	cfg, _, sess := setup(absPath, nil)
	defer sess.Close()

	formatName := cfg.Export.Format
	if exportFormat != "" {
		formatName = exportFormat
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}

	target := exportOutput
	if target == "" {
		target = filepath.Join(absPath, defaultExportName(format))
	}

	result, err := scanOnce(cmd.Context(), sess, absPath)
	if err != nil {
		return err
	}
	if len(result.Entries) == 0 {
		return fmt.Errorf("no configuration entries found in %s", absPath)
	}

	written, err := sess.Export(result.Entries, target, format)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d keys to %s\n", result.Summary.UniqueKeys, written)
	return nil
}

func defaultExportName(format export.Format) string {
	switch format {
	case export.FormatJSON:
		return "config.example.json"
	case export.FormatYAML:
		return "config.example.yaml"
	default:
		return ".env.example"
	}
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path, err := config.WriteDefault(".")
	if err != nil {
		return err
	}

	fmt.Printf("Created %s\n", path)
	return nil
}

func printHeader() {
	header := `   ___ ___  _  _ ___ ___ ___ ___  
  / __/ _ \| \| | __/ __| _ \   \ 
 | (_| (_) | .' | _| (_ |   / |) |
  \___\___/|_|\_|_| \___|_|_\___/ 

`
	fmt.Print(header)
	fmt.Printf("Version: %s\n\n", Version)
}

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
