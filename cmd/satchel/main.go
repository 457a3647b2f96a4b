package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/satchel/internal/api"
	"github.com/mattjoyce/satchel/internal/backup"
	"github.com/mattjoyce/satchel/internal/config"
	"github.com/mattjoyce/satchel/internal/journal"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/prompt"
	"github.com/mattjoyce/satchel/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "backup":
		return runBackupNoun(args)
	case "system":
		return runSystemNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: satchel version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("satchel %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, resolvedBuildTime); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `satchel - backup and restore for a self-hosted server platform

Usage:
  satchel <noun> <action> [flags]

Backup Commands:
  backup create     Back up system hooks and applications into a new archive
  backup restore    Restore an archive onto this system
  backup list       List local archives
  backup info       Show an archive's metadata
  backup delete     Delete an archive and its metadata
  backup verify     Check an archive against its recorded checksum
  backup history    Show recent operations

System Commands:
  system cleanup    Remove abandoned workspaces
  system serve      Serve the HTTP API in the foreground

General:
  version           Show version information
  help              Show this help message

Every action accepts --config PATH. Results are printed as JSON.
Use 'satchel <noun> help' for the actions of a noun.
`)
}

// --- NOUN DISPATCHERS ---

func runBackupNoun(args []string) int {
	if len(args) < 1 {
		printBackupNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBackupNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "create":
		return runBackupCreate(actionArgs)
	case "restore":
		return runBackupRestore(actionArgs)
	case "list":
		return runBackupList(actionArgs)
	case "info":
		return runBackupInfo(actionArgs)
	case "delete":
		return runBackupDelete(actionArgs)
	case "verify":
		return runBackupVerify(actionArgs)
	case "history":
		return runBackupHistory(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown backup action: %s\n", action)
		return 1
	}
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "cleanup":
		return runSystemCleanup(actionArgs)
	case "serve":
		return runSystemServe(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func printBackupNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: satchel backup <action> [flags]")
	fmt.Fprintln(w, "Actions: create, restore, list, info, delete, verify, history")
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: satchel system <action> [flags]")
	fmt.Fprintln(w, "Actions: cleanup, serve")
}

// --- ACTIONS ---

func runBackupCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	var opts backup.CreateOptions
	var hooks, apps string
	fs.StringVar(&opts.Name, "name", "", "Archive name (default: local time YYYYMMDD-HHMMSS)")
	fs.StringVar(&opts.Description, "description", "", "Archive description")
	fs.StringVar(&opts.OutputDirectory, "output-directory", "", "Write the backup here instead of the archives directory")
	fs.BoolVar(&opts.NoCompress, "no-compress", false, "Leave the backup uncompressed in --output-directory")
	fs.BoolVar(&opts.IgnoreHooks, "ignore-hooks", false, "Do not run system backup hooks")
	fs.StringVar(&hooks, "hooks", "", "Comma separated hooks to run (default: all)")
	fs.BoolVar(&opts.IgnoreApps, "ignore-apps", false, "Do not back up applications")
	fs.StringVar(&apps, "apps", "", "Comma separated applications to back up (default: all)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	opts.Hooks = splitList(hooks)
	opts.Apps = splitList(apps)

	svc, closeFn, err := openService(*configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := svc.Create(ctx, opts)
	if err != nil {
		return reportError(err)
	}
	return printJSON(res)
}

func runBackupRestore(args []string) int {
	name, rest := splitName(args)
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	opts := backup.RestoreOptions{Name: name}
	var hooks, apps string
	fs.BoolVar(&opts.IgnoreHooks, "ignore-hooks", false, "Do not run system restore hooks")
	fs.StringVar(&hooks, "hooks", "", "Comma separated hooks to restore (default: all in archive)")
	fs.BoolVar(&opts.IgnoreApps, "ignore-apps", false, "Do not restore applications")
	fs.StringVar(&apps, "apps", "", "Comma separated applications to restore (default: all in archive)")
	fs.BoolVar(&opts.Force, "force", false, "Restore onto an installed system without asking")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if opts.Name == "" {
		opts.Name = fs.Arg(0)
	}
	if opts.Name == "" {
		fmt.Fprintln(os.Stderr, "Usage: satchel backup restore <name> [--force] [--hooks a,b] [--apps a,b]")
		return 1
	}
	opts.Hooks = splitList(hooks)
	opts.Apps = splitList(apps)

	svc, closeFn, err := openService(*configPath, prompt.ForStdin())
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := svc.Restore(ctx, opts)
	if err != nil {
		return reportError(err)
	}
	return printJSON(res)
}

func runBackupList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	withInfo := fs.Bool("with-info", false, "Include archive metadata")
	human := fs.Bool("human-readable", false, "Print sizes in human readable form")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	svc, closeFn, err := openService(*configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	archives, err := svc.List(*withInfo, *human)
	if err != nil {
		return reportError(err)
	}
	if !*withInfo {
		names := make([]string, 0, len(archives))
		for _, a := range archives {
			names = append(names, a.Name)
		}
		return printJSON(map[string][]string{"archives": names})
	}
	return printJSON(map[string]any{"archives": archives})
}

func runBackupInfo(args []string) int {
	name, rest := splitName(args)
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	details := fs.Bool("with-details", false, "Include apps and hooks")
	human := fs.Bool("human-readable", false, "Print sizes in human readable form")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if name == "" {
		name = fs.Arg(0)
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "Usage: satchel backup info <name> [--with-details] [--human-readable]")
		return 1
	}

	svc, closeFn, err := openService(*configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	a, err := svc.Info(name, *details, *human)
	if err != nil {
		return reportError(err)
	}
	return printJSON(a)
}

func runBackupDelete(args []string) int {
	name, configPath, ok := nameAndConfig("delete", args)
	if !ok {
		return 1
	}

	svc, closeFn, err := openService(configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	if err := svc.Delete(context.Background(), name); err != nil {
		return reportError(err)
	}
	return printJSON(map[string]string{"deleted": name})
}

func runBackupVerify(args []string) int {
	name, configPath, ok := nameAndConfig("verify", args)
	if !ok {
		return 1
	}

	svc, closeFn, err := openService(configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	res, err := svc.Verify(context.Background(), name)
	if err != nil {
		if res.Checksum != "" {
			printJSON(res)
		}
		return reportError(err)
	}
	return printJSON(res)
}

func runBackupHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of operations (0 for all)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	svc, closeFn, err := openService(*configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	entries, err := svc.History(context.Background(), *limit)
	if err != nil {
		return reportError(err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return printJSON(map[string]any{"operations": entries})
}

func runSystemCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	olderThan := fs.Duration("older-than", 24*time.Hour, "Remove workspaces older than this")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	svc, closeFn, err := openService(*configPath, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	report, err := svc.Cleanup(context.Background(), *olderThan)
	if err != nil {
		return reportError(err)
	}
	return printJSON(map[string]int{"deleted_workspaces": report.DeletedDirs})
}

func runSystemServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return backup.ExitConfig
	}
	if cfg.API.Auth.APIKey == "" {
		fmt.Fprintln(os.Stderr, "api.auth.api_key must be set to serve the API")
		return backup.ExitConfig
	}

	svc, closeFn, err := serviceFromConfig(cfg, nil)
	if err != nil {
		return reportError(err)
	}
	defer closeFn()

	logger := log.WithComponent("main")
	logger.Info("satchel serving", "version", version, "listen", cfg.API.Listen)

	ctx, cancel := signalContext()
	defer cancel()

	server := api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.Auth.APIKey}, svc, log.WithComponent("api"))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return 1
	}
	logger.Info("satchel stopped")
	return 0
}

// --- HELPERS ---

// openService loads configuration and wires the backup service. The returned
// func closes the journal.
func openService(configPath string, confirm backup.Confirmer) (*backup.Service, func(), error) {
	cfg, err := config.LoadOrDefaults(configPath)
	if err != nil {
		return nil, nil, &backup.Error{Kind: backup.KindConfig, Op: "load config", Err: err}
	}
	return serviceFromConfig(cfg, confirm)
}

func serviceFromConfig(cfg *config.Config, confirm backup.Confirmer) (*backup.Service, func(), error) {
	// Logs go to stderr; stdout carries the JSON result.
	log.SetupWithWriter(cfg.Service.LogLevel, os.Stderr)

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		return nil, nil, &backup.Error{Kind: backup.KindResource, Op: "open journal", Err: err}
	}

	svc, err := backup.FromConfig(cfg, journal.New(db), confirm)
	if err != nil {
		_ = db.Close()
		return nil, nil, &backup.Error{Kind: backup.KindConfig, Op: "wire service", Err: err}
	}
	return svc, func() { _ = db.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// splitName takes a leading positional name so flags may follow it.
func splitName(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func nameAndConfig(action string, args []string) (string, string, bool) {
	name, rest := splitName(args)
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(rest); err != nil {
		return "", "", false
	}
	if name == "" {
		name = fs.Arg(0)
	}
	if name == "" {
		fmt.Fprintf(os.Stderr, "Usage: satchel backup %s <name> [--config PATH]\n", action)
		return "", "", false
	}
	return name, *configPath, true
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func reportError(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return backup.ExitCode(err)
}
