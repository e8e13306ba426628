// Package main is the DIYDoctor CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/cli"
	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/evaluation"
	"github.com/hyperjump/diydoctor/internal/extract"
	"github.com/hyperjump/diydoctor/internal/pipeline"
	"github.com/hyperjump/diydoctor/internal/records"
	"github.com/hyperjump/diydoctor/internal/server"
	"github.com/hyperjump/diydoctor/internal/watcher"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/diydoctor/config.yaml"

// loadConfig loads the .env file next to the config, then the config itself.
// When path is the default and config.yaml exists in the current directory,
// that file is used instead. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	if err := config.LoadEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "import":
		runImport()
	case "patients":
		runPatients()
	case "sessions":
		runSessions()
	case "evaluate":
		runEvaluate()
	case "version", "--version", "-v":
		fmt.Printf("diydoctor version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config and creates the logger shared by every command.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if len(cfg.Watch.Directories) > 0 {
		w := watcher.FromConfig(cfg.Watch, pipeline.DocumentSync{Service: components.Service}, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		logger.Info("watching documents", zap.Strings("roots", w.Roots()))
		go w.Sync(ctx)
	}

	srv := server.NewServer(components.Service, components.Metrics, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// buildQuery joins positional args so multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the query to the front so that
// flag.Parse sees them; the flag package stops at the first positional arg.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// target names the session a command works on.
type target struct {
	patient  string
	document string
}

func (t target) validate() error {
	switch {
	case t.patient != "" && t.document != "":
		return errors.New("use either --patient or --document, not both")
	case t.patient == "" && t.document == "":
		return errors.New("--patient or --document is required")
	}
	return nil
}

func (t target) key() string {
	if t.patient != "" {
		return pipeline.PatientKey(t.patient)
	}
	return pipeline.DocumentKey(t.document)
}

func (t target) load(ctx context.Context, svc *pipeline.Service) (pipeline.Info, error) {
	if t.patient != "" {
		return svc.LoadPatient(ctx, t.patient)
	}
	return svc.LoadDocument(ctx, t.document)
}

func parseFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text", "":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty runs the pipeline in-process")
	patient := fs.String("patient", "", "patient fingerprint")
	document := fs.String("document", "", "reference document path")
	output := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	t := target{patient: *patient, document: *document}
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: diydoctor ask [--patient fp | --document path] <query>")
		os.Exit(1)
	}
	if err := t.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	format, err := parseFormat(*output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var res *pipeline.Result
	if *serverURL != "" {
		res, err = askViaHTTP(*serverURL, t, query)
	} else {
		res, err = askInProcess(*configPath, *debug, t, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func askInProcess(configPath string, debug bool, t target, query string) (*pipeline.Result, error) {
	cfg, logger := setup(configPath, debug)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, t.patient != "")
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if _, err := t.load(ctx, components.Service); err != nil {
		return nil, err
	}
	res, err := components.Service.Ask(ctx, t.key(), query)
	if errors.Is(err, pipeline.ErrEmptyEvidence) {
		return res, nil
	}
	return res, err
}

// askViaHTTP loads the session on a running server, then asks it.
func askViaHTTP(serverURL string, t target, query string) (*pipeline.Result, error) {
	base := strings.TrimRight(serverURL, "/")
	var loadURL string
	var body any
	if t.patient != "" {
		loadURL = base + "/api/v1/sessions/patients/" + url.PathEscape(t.patient)
	} else {
		abs, err := filepath.Abs(t.document)
		if err != nil {
			return nil, err
		}
		loadURL = base + "/api/v1/sessions/documents"
		body = map[string]string{"path": abs}
		t.document = abs
	}
	if err := postJSON(loadURL, body, http.StatusCreated, nil); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var res pipeline.Result
	req := map[string]string{"session": t.key(), "query": query}
	if err := postJSON(base+"/api/v1/ask", req, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func runSessions() {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (default: from config)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseFormat(*output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	base := *serverURL
	if base == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		base = serverBaseURL(cfg.Server)
	}
	sessions, err := listSessions(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSessions(os.Stdout, sessions, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// serverBaseURL is the URL a local client uses to reach the configured server.
func serverBaseURL(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Port)
}

func listSessions(base string) ([]pipeline.Info, error) {
	resp, err := http.Get(strings.TrimRight(base, "/") + "/api/v1/sessions")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var body struct {
		Sessions []pipeline.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body.Sessions, nil
}

func postJSON(target string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := http.Post(target, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	collection := fs.String("collection", "", "record collection: lab_reports, disease_history or family_history")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if *collection == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: diydoctor import --collection <name> <file.xlsx|file.ods|file.csv>...")
		os.Exit(1)
	}
	if !validCollection(*collection) {
		fmt.Fprintf(os.Stderr, "Unknown collection %q\n", *collection)
		os.Exit(1)
	}
	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx := context.Background()
	store, err := records.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open records store", zap.Error(err))
	}
	defer store.Close()

	ex := extract.NewExtractor(extract.WithLogger(logger))
	total := 0
	for _, path := range fs.Args() {
		tables, err := ex.ExtractTables(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Import of %s failed: %v\n", path, err)
			os.Exit(1)
		}
		n, err := records.Import(ctx, store, *collection, tables)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Import of %s failed: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d records from %s\n", n, path)
		total += n
	}
	fmt.Printf("Imported %d records into %s\n", total, *collection)
}

func runPatients() {
	fs := flag.NewFlagSet("patients", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	del := fs.String("delete", "", "delete every record of this fingerprint")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx := context.Background()
	store, err := records.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open records store", zap.Error(err))
	}
	defer store.Close()

	if *del != "" {
		if err := store.DeletePatient(ctx, *del); err != nil {
			fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted records of %s\n", *del)
		return
	}
	patients, err := store.Patients(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	for _, fp := range patients {
		fmt.Println(fp)
	}
}

func validCollection(c string) bool {
	switch c {
	case records.LabReports, records.DiseaseHistory, records.FamilyHistory:
		return true
	}
	return false
}

func runEvaluate() {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	patient := fs.String("patient", "", "patient fingerprint")
	document := fs.String("document", "", "reference document path")
	modelList := fs.String("models", "", "comma-separated model names (default: evaluation.models)")
	outPath := fs.String("out", "", "xlsx report path (default: evaluation.output_path)")
	output := fs.String("output", "text", "summary format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	t := target{patient: *patient, document: *document}
	if err := t.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	format, err := parseFormat(*output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	names := cfg.Evaluation.Models
	if *modelList != "" {
		names = splitList(*modelList)
	}
	queries, err := loadQueries(cfg.Evaluation)
	if err != nil {
		logger.Fatal("failed to load queries", zap.Error(err))
	}
	report := cfg.Evaluation.OutputPath
	if *outPath != "" {
		report = *outPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, t.patient != "")
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if _, err := t.load(ctx, components.Service); err != nil {
		logger.Fatal("failed to load session", zap.Error(err))
	}
	sess, ok := components.Registry.Get(t.key())
	if !ok {
		logger.Fatal("session disappeared", zap.String("key", t.key()))
	}

	runner := evaluation.NewRunner(sess.Nodes, sess, components.ClientFunc(),
		evaluation.WithLogger(logger),
		evaluation.WithQuestionsPerNode(cfg.Evaluation.QuestionsPerNode),
		evaluation.WithRetrievalTopK(cfg.Evaluation.RetrievalTopK),
		evaluation.WithConcurrency(cfg.Evaluation.Concurrency))
	rep, err := runner.Run(ctx, names, queries)
	if err != nil {
		logger.Fatal("evaluation failed", zap.Error(err))
	}
	if err := evaluation.WriteReport(report, rep); err != nil {
		logger.Fatal("failed to write report", zap.Error(err))
	}
	if err := cli.WriteEvaluation(os.Stdout, rep, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputText {
		fmt.Printf("\nReport written to %s\n", report)
	}
}

// loadQueries returns the configured queries, then the lines of the queries
// file, falling back to the default set.
func loadQueries(cfg config.EvaluationConfig) ([]string, error) {
	if len(cfg.Queries) > 0 {
		return cfg.Queries, nil
	}
	if cfg.QueriesFile == "" {
		return evaluation.DefaultQueries, nil
	}
	data, err := os.ReadFile(cfg.QueriesFile)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no queries", cfg.QueriesFile)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printUsage() {
	fmt.Println(`diydoctor - grounded answers over patient records and reference documents

Usage:
  diydoctor server [flags]                   Start the HTTP server
  diydoctor ask [flags] <query>              Answer a query and judge the answer
  diydoctor import [flags] <file>...         Import patient records from spreadsheets
  diydoctor patients [--delete fp]           List or delete imported patients
  diydoctor sessions [--server URL]          List sessions loaded on a running server
  diydoctor evaluate [flags]                 Evaluate model pairs and retrieval
  diydoctor version                          Show version
  diydoctor help                             Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/diydoctor/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --patient string   Patient fingerprint
  --document string  Reference document path
  --server string    Server URL; empty runs the pipeline in-process
  --output string    Output format: text or json (default: text)

Import Flags:
  --collection string  lab_reports, disease_history or family_history

Evaluate Flags:
  --patient / --document  Session to evaluate against
  --models string         Comma-separated model names (default: evaluation.models)
  --out string            Report path (default: evaluation.output_path)

Examples:
  diydoctor server
  diydoctor ask --patient 3f9a2c "What was my last fasting glucose?"
  diydoctor ask --document ~/docs/asthma.pdf --output json "How do I use a spacer?"
  diydoctor import --collection lab_reports labs.xlsx
  diydoctor evaluate --patient 3f9a2c --models gpt,claude,gemini`)
}
