package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/doc-chat/api"
	"github.com/fabfab/doc-chat/chat"
	"github.com/fabfab/doc-chat/config"
	"github.com/fabfab/doc-chat/database"
	"github.com/fabfab/doc-chat/embeddings"
	"github.com/fabfab/doc-chat/ingestion"
	"github.com/fabfab/doc-chat/knowledge"
	"github.com/fabfab/doc-chat/llm"
	"github.com/fabfab/doc-chat/session"
	"github.com/fabfab/doc-chat/vectorstore"
	"github.com/fabfab/doc-chat/vision"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "watch":
		watchCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// app bundles the long-lived collaborators a command needs. pool and driver
// stay nil when the corresponding backend is not configured; the index then
// lives in memory and graph sync is skipped.
type app struct {
	pool     *pgxpool.Pool
	driver   neo4j.DriverWithContext
	store    vectorstore.Store
	ingest   *ingestion.Service
	llm      llm.Client
	insights chat.InsightStore
	turns    chat.TurnStore
	sessions *session.Registry
}

func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger, withLLM bool) (*app, func(), error) {
	a := &app{sessions: session.NewRegistry(logger)}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, cleanup, fmt.Errorf("embedder setup: %w", err)
	}

	if cfg.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres connection: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		if err := database.EnsureSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return nil, cleanup, fmt.Errorf("ensure schema: %w", err)
		}
		a.pool = pool
		a.store = vectorstore.NewPostgresStore(pool, embedder, logger)
		a.turns = database.NewTurnStore(pool)
	} else {
		logger.Println("no Postgres configured, using in-memory vector index")
		a.store = vectorstore.NewMemoryStore(embedder)
	}

	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return nil, cleanup, fmt.Errorf("neo4j connection: %w", err)
		}
		cleanups = append(cleanups, func() { driver.Close(context.Background()) })
		a.driver = driver
		a.insights = chat.NewNeo4jInsightStore(driver)
	}

	describer := vision.NewDescriber(cfg, logger)
	loader := ingestion.NewLoader(ingestion.NewParserRegistry(), describer, cfg.Ingestion.MaxWorkers, logger)
	a.ingest = ingestion.NewService(a.store, loader, a.driver, cfg.Ingestion, logger)

	if withLLM {
		client, err := llm.NewClient(cfg)
		if err != nil {
			return nil, cleanup, fmt.Errorf("llm setup: %w", err)
		}
		a.llm = client
	}

	return a, cleanup, nil
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := buildApp(ctx, cfg, logger, true)
	defer cleanup()
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	server := api.New(cfg, api.Deps{
		Ingest:   a.ingest,
		Sessions: a.sessions,
		LLM:      a.llm,
		Insights: a.insights,
		Turns:    a.turns,
		Pool:     a.pool,
		Driver:   a.driver,
	}, nil, logger)

	httpServer := &http.Server{Addr: *addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := flags.String("dir", cfg.Ingestion.DataDir, "directory containing documents to ingest")
	sessionID := flags.String("session", "", "session identifier (defaults to one derived from user/token)")
	user := flags.String("user", "local", "user identifier for session derivation")
	token := flags.String("token", "dev", "token for session derivation")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := buildApp(ctx, cfg, logger, false)
	defer cleanup()
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	id := *sessionID
	if id == "" {
		id = session.DeriveID(*user, *token)
	}
	sess := a.sessions.GetOrCreate(id)

	logger.Printf("ingesting documents from %s into session %s using %s/%s embeddings",
		*dir, sess.ID, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	if err := a.ingest.IngestDirectory(ctx, sess, *dir); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
	logger.Printf("processed files: %s", strings.Join(sess.ProcessedFiles(), ", "))
}

func askCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	question := flags.String("question", "", "question to ask over the ingested documents")
	dir := flags.String("dir", cfg.Ingestion.DataDir, "directory to ingest before asking")
	sessionID := flags.String("session", "", "session identifier (defaults to one derived from user/token)")
	user := flags.String("user", "local", "user identifier for session derivation")
	token := flags.String("token", "dev", "token for session derivation")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := buildApp(ctx, cfg, logger, true)
	defer cleanup()
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	id := *sessionID
	if id == "" {
		id = session.DeriveID(*user, *token)
	}
	sess := a.sessions.GetOrCreate(id)

	if err := a.ingest.IngestDirectory(ctx, sess, *dir); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}

	responder := chat.NewResponder(sess, a.llm, a.insights, a.turns, logger)
	result, err := responder.Chat(ctx, *question)
	if err != nil {
		logger.Fatalf("chat failed: %v", err)
	}

	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for idx, source := range result.Sources {
			name := source.Metadata[vectorstore.MetadataFileName]
			fmt.Printf("%d. %s (distance %.3f)\n", idx+1, name, source.RelevanceScore)
			fmt.Printf("   %s\n", source.Content)
			if source.Insight.ChunkCount > 0 {
				fmt.Printf("   Indexed chunks: %d\n", source.Insight.ChunkCount)
			}
			if len(source.Insight.Related) > 0 {
				fmt.Printf("   Related documents: %s\n", strings.Join(source.Insight.Related, ", "))
			}
		}
	}
}

func watchCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := flags.String("dir", cfg.Ingestion.DataDir, "directory to watch for new documents")
	sessionID := flags.String("session", "", "session identifier (defaults to one derived from user/token)")
	user := flags.String("user", "local", "user identifier for session derivation")
	token := flags.String("token", "dev", "token for session derivation")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse watch flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := buildApp(ctx, cfg, logger, false)
	defer cleanup()
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	id := *sessionID
	if id == "" {
		id = session.DeriveID(*user, *token)
	}
	sess := a.sessions.GetOrCreate(id)

	if err := a.ingest.IngestDirectory(ctx, sess, *dir); err != nil {
		logger.Fatalf("initial ingestion failed: %v", err)
	}

	watcher, err := ingestion.NewWatcher(a.ingest, logger)
	if err != nil {
		logger.Fatalf("watcher setup: %v", err)
	}
	defer watcher.Close()

	if err := watcher.Watch(ctx, sess, *dir); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("watch failed: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	sessionID := flags.String("session", "", "session identifier (defaults to one derived from user/token)")
	user := flags.String("user", "local", "user identifier for session derivation")
	token := flags.String("token", "dev", "token for session derivation")
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	id := *sessionID
	if id == "" {
		id = session.DeriveID(*user, *token)
	}

	if !*confirmed {
		fmt.Printf("This will permanently delete ingested data for session %s. Continue? [y/N]: ", id)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("postgres connection: %v", err)
		}
		defer pool.Close()

		if err := database.ClearSession(ctx, pool, id); err != nil {
			logger.Fatalf("clear session data: %v", err)
		}
		logger.Printf("cleared Postgres data for session %s", id)
	}

	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Fatalf("neo4j connection: %v", err)
		}
		defer driver.Close(ctx)

		if err := knowledge.PurgeSession(ctx, driver, id); err != nil {
			logger.Fatalf("clear neo4j: %v", err)
		}
		logger.Printf("cleared Neo4j graph for session %s", id)
	}

	logger.Println("session data removed")
}

func printUsage() {
	fmt.Println("Usage: doc-chat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP API")
	fmt.Println("  ingest   Ingest documents from a directory into a session")
	fmt.Println("  ask      Ingest a directory (if needed) and ask a question")
	fmt.Println("  watch    Watch a directory and ingest new documents as they appear")
	fmt.Println("  clear    Remove a session's data from Postgres/Neo4j")
}
