// ABOUTME: Entry point for the VulnAgent image vulnerability evaluation tool.
// ABOUTME: Handles configuration loading, runs a single evaluation or serves reports over HTTP.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jfeddern/VulnAgent/internal/engine"
	"github.com/jfeddern/VulnAgent/internal/metrics"
	"github.com/jfeddern/VulnAgent/internal/providers"
	"github.com/jfeddern/VulnAgent/internal/server"
	"github.com/jfeddern/VulnAgent/internal/types"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// Set up structured logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Set debug level if requested
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	config, err := loadConfig(os.Args[1:])
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := validateConfig(config); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	agent, err := NewAgent(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create agent")
	}

	if config.Mode == "serve" {
		if err := agent.Serve(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to serve reports")
		}
		return
	}

	out := io.Writer(os.Stdout)
	if config.Output != "" {
		file, err := os.Create(config.Output)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create output file")
		}
		defer file.Close()
		out = file
	}

	if err := agent.RunOnce(ctx, out); err != nil {
		logger.WithError(err).Fatal("Evaluation failed")
	}
}

// listFlag collects comma separated values into a string slice
type listFlag struct {
	values *[]string
}

func (l listFlag) String() string {
	if l.values == nil {
		return ""
	}
	return strings.Join(*l.values, ",")
}

func (l listFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l.values = append(*l.values, v)
		}
	}
	return nil
}

// loadConfig builds the configuration from flags, VULNAGENT_* environment variables and an optional config file.
// Explicit flags win over the environment, which wins over the config file.
func loadConfig(args []string) (*engine.Config, error) {
	config := &engine.Config{}
	var configFile string

	fs := flag.NewFlagSet("vulnagent", flag.ContinueOnError)
	fs.StringVar(&configFile, "config", "", "Path to a YAML or JSON config file")
	fs.StringVar(&config.Mode, "mode", "once", "Operation mode: once or serve")
	fs.StringVar(&config.ImageSource, "image-source", "static", "Image source: static, file, cluster, ecr or docker")
	fs.Var(listFlag{&config.Images}, "images", "Comma separated images to evaluate (static source)")
	fs.StringVar(&config.ImageListFile, "image-list-file", "", "Path to JSON file with image list (file source)")
	fs.StringVar(&config.Container, "container", "", "Evaluate the image of this running container id or name")
	fs.StringVar(&config.Registry, "registry", "", "Only evaluate cluster images from this registry")
	fs.StringVar(&config.InventoryDir, "inventory-dir", "", "Directory with per-image inventory manifests")
	fs.StringVar(&config.OracleHost, "oracle-host", "", "Vulnerability oracle host")
	fs.IntVar(&config.OraclePort, "oracle-port", 5000, "Vulnerability oracle port")
	fs.DurationVar(&config.OracleTimeout, "oracle-timeout", 5*time.Second, "Per-request oracle timeout")
	fs.IntVar(&config.MaxConcurrency, "max-concurrency", 10, "Maximum concurrent oracle lookups")
	fs.IntVar(&config.Port, "port", 9090, "Port to serve reports and metrics on")
	fs.DurationVar(&config.ScrapeInterval, "scrape-interval", 5*time.Minute, "Interval between evaluations in serve mode")
	fs.StringVar(&config.ECRAccountID, "ecr-account-id", "", "AWS account ID for ECR registry")
	fs.StringVar(&config.ECRRegion, "ecr-region", "", "AWS region for ECR registry")
	fs.Var(listFlag{&config.ECRRepositories}, "ecr-repositories", "Comma separated ECR repositories (all when empty)")
	fs.StringVar(&config.Output, "output", "", "Write the once mode report to this file instead of stdout")
	fs.BoolVar(&config.MockMode, "mock", false, "Enable mock mode for local testing (no external calls)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("VULNAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if f.Name == "config" || explicit[f.Name] || !v.IsSet(f.Name) {
			return
		}
		value := v.GetString(f.Name)
		if list, ok := f.Value.(listFlag); ok {
			*list.values = nil
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		if err := f.Value.Set(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid value %q for %s: %w", value, f.Name, err))
		}
	})
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Fall back to the standard AWS ECR variables
	if config.ECRAccountID == "" {
		config.ECRAccountID = os.Getenv("AWS_ECR_ACCOUNT_ID")
	}
	if config.ECRRegion == "" {
		config.ECRRegion = os.Getenv("AWS_ECR_REGION")
	}

	return config, nil
}

func validateConfig(config *engine.Config) error {
	if config.Mode != "once" && config.Mode != "serve" {
		return fmt.Errorf("unsupported mode %q: must be once or serve", config.Mode)
	}
	if config.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be at least 1, got %d", config.MaxConcurrency)
	}
	if config.OracleTimeout <= 0 {
		return fmt.Errorf("oracle timeout must be positive, got %s", config.OracleTimeout)
	}
	if config.Mode == "serve" {
		if config.Port < 1 || config.Port > 65535 {
			return fmt.Errorf("invalid port %d", config.Port)
		}
		if config.ScrapeInterval <= 0 {
			return fmt.Errorf("scrape interval must be positive, got %s", config.ScrapeInterval)
		}
	}

	if config.MockMode {
		return nil
	}

	if config.Container == "" {
		switch config.ImageSource {
		case "static":
			if len(config.Images) == 0 {
				return fmt.Errorf("static image source requires at least one image")
			}
		case "file":
			if config.ImageListFile == "" {
				return fmt.Errorf("image list file is required for the file image source")
			}
		case "ecr":
			if config.ECRAccountID == "" || config.ECRRegion == "" {
				return fmt.Errorf("ECR account ID and region are required for the ecr image source")
			}
		case "cluster", "docker":
		default:
			return fmt.Errorf("unsupported image source %q", config.ImageSource)
		}
	}

	if config.InventoryDir == "" {
		return fmt.Errorf("inventory directory is required (unless using mock mode)")
	}
	if config.OracleHost == "" {
		return fmt.Errorf("oracle host is required (unless using mock mode)")
	}
	if config.OraclePort < 1 || config.OraclePort > 65535 {
		return fmt.Errorf("invalid oracle port %d", config.OraclePort)
	}

	return nil
}

type Agent struct {
	config *engine.Config
	logger *logrus.Logger
	engine *engine.Engine
}

func NewAgent(ctx context.Context, config *engine.Config, logger *logrus.Logger) (*Agent, error) {
	logger.WithFields(logrus.Fields{
		"mode":            config.Mode,
		"image_source":    config.ImageSource,
		"oracle_host":     config.OracleHost,
		"oracle_port":     config.OraclePort,
		"max_concurrency": config.MaxConcurrency,
		"mock":            config.MockMode,
	}).Info("Initializing VulnAgent")

	// Create providers using factory
	providerConfig := providers.NewProviderConfig(config)

	imageSource, err := providers.CreateImageSource(ctx, providerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create image source: %w", err)
	}

	extractor, err := providers.CreateInventoryExtractor(providerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory extractor: %w", err)
	}

	oracle, err := providers.CreateOracle(providerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vulnerability oracle: %w", err)
	}

	return &Agent{
		config: config,
		logger: logger,
		engine: engine.NewEngine(imageSource, extractor, oracle, config, logger),
	}, nil
}

// RunOnce evaluates every discovered image and writes the reports as a JSON array ordered by image
func (a *Agent) RunOnce(ctx context.Context, out io.Writer) error {
	reportData, err := a.engine.EvaluateAll(ctx)
	if err != nil {
		return err
	}

	reports := lo.Values(reportData)
	sort.Slice(reports, func(i, j int) bool { return reports[i].URI < reports[j].URI })

	partial := lo.CountBy(reports, func(d *types.ImageReportData) bool {
		return d.OverallStatus == types.StatusPartialFailure
	})
	if partial > 0 {
		a.logger.WithField("partial_failures", partial).Warn("Some images were evaluated with failures")
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(reports); err != nil {
		return fmt.Errorf("failed to write reports: %w", err)
	}
	return nil
}

// Serve evaluates images periodically and exposes the latest reports until ctx is done
func (a *Agent) Serve(ctx context.Context) error {
	// Start the evaluation engine
	go a.engine.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.routes(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("HTTP server shutdown failed")
		}
	}()

	a.logger.WithFields(logrus.Fields{
		"port": a.config.Port,
		"mode": a.config.Mode,
	}).Info("Starting HTTP server")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (a *Agent) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", a.securityMiddleware(metrics.CreateMetricsHandler(a.engine, a.logger)))
	mux.HandleFunc("/reports", a.securityMiddleware(server.CreateReportsHandler(a.engine, a.logger)))
	mux.HandleFunc("/health", a.securityMiddleware(a.healthHandler))
	return mux
}

func (a *Agent) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		// Only allow specific HTTP methods
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Log the request
		a.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next(w, r)
	}
}

func (a *Agent) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}
