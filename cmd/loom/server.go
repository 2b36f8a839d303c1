package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/loomkit/loom/internal/api"
	"github.com/loomkit/loom/internal/config"
	"github.com/loomkit/loom/internal/embed"
	"github.com/loomkit/loom/internal/graph"
	"github.com/loomkit/loom/internal/harvest"
	"github.com/loomkit/loom/internal/ingest"
	"github.com/loomkit/loom/internal/linkgraph"
	"github.com/loomkit/loom/internal/retrieval"
	"github.com/loomkit/loom/internal/versions"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the loom server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running loom server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loom system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "loom.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "loom version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the API token exists before anything binds to the port.
	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("loom is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("loom is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check embedding engine readiness. The graph works without it; only
	// semantic retrieval degrades, and the ingest worker retries jobs.
	embedClient := embed.New(cfg.Embed.BaseURL, cfg.Embed.Model, cfg.Embed.Dimensions)
	if embedClient.IsRunning(ctx) {
		if !embedClient.HasModel(ctx) {
			printStep("Pulling embedding model %s...", cfg.Embed.Model)
			if err := embedClient.PullModel(ctx, func(p embed.PullProgress) {
				if p.Total > 0 {
					fmt.Fprintf(os.Stderr, "\r  %s: %d%%", p.Status, p.Completed*100/p.Total)
				}
			}); err != nil {
				return fmt.Errorf("pulling embedding model: %w", err)
			}
			fmt.Fprintln(os.Stderr)
		}
	} else {
		printWarning("embedding engine not reachable at %s, semantic search is unavailable until it starts", cfg.Embed.BaseURL)
	}

	// Open the content graph store.
	store, err := graph.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()

	// Build retrieval and graph services.
	vectors := retrieval.NewVectorIndex(store.DB())
	retriever := retrieval.New(store, vectors, embedClient, slog.Default())
	links := linkgraph.New(store)
	vers := versions.New(store)
	harvestStore := harvest.NewStore(store.DB())

	// Build HTTP handler and server. /health stays outside bearer auth.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Links:     links,
		Versions:  vers,
		Retriever: retriever,
		Harvest:   harvestStore,
		Retrieval: cfg.Retrieval,
		Token:     apiToken,
		Logger:    slog.Default(),
	})
	topRouter := chi.NewRouter()
	topRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	topRouter.Mount("/", appHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Start embedding worker.
	worker := ingest.NewWorker(store, embedClient, vectors, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Retriever: retriever,
		Harvest:   harvestStore,
		TopK:      cfg.Retrieval.TopK,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "loom listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("loom is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop loom (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to loom (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check embedding engine.
	embedResp, err := client.Get(cfg.Embed.BaseURL + "/api/version")
	if err != nil {
		printStatus("Embedder", "not running")
	} else {
		embedResp.Body.Close()
		printStatus("Embedder", "running at %s", cfg.Embed.BaseURL)
	}
	printStatus("Embed model", "%s (%d dims)", cfg.Embed.Model, cfg.Embed.Dimensions)

	// Show corpus counts if server is running.
	apiToken, tokenErr := config.GetAPIToken(cfg.Storage.DataDir)
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		statsResp, err := apiGet(client, serverURL+"/stats", apiToken)
		if err == nil {
			var stats struct {
				Nodes    int `json:"nodes"`
				Links    int `json:"links"`
				Versions int `json:"versions"`
				Vectors  int `json:"vectors"`
				Buckets  int `json:"buckets"`
				Books    int `json:"books"`
			}
			if json.NewDecoder(statsResp.Body).Decode(&stats) == nil {
				printStatus("Nodes", "%d (%d links, %d versions)", stats.Nodes, stats.Links, stats.Versions)
				printStatus("Vectors", "%d", stats.Vectors)
				printStatus("Harvest", "%d buckets, %d books", stats.Buckets, stats.Books)
			}
			statsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
