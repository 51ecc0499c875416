package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"persona-rag/internal/chromemdb"
	"persona-rag/internal/chunker"
	"persona-rag/internal/config"
	"persona-rag/internal/db"
	"persona-rag/internal/embedding"
	"persona-rag/internal/helper"
	"persona-rag/internal/llmservice"
	"persona-rag/internal/persona"
	"persona-rag/internal/rag"
	"persona-rag/internal/server"
	"persona-rag/internal/vectordb"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	personaID := flag.String("persona", "", "Persona to query, set up, export or import")
	query := flag.String("query", "", "Question to ask the persona")
	setup := flag.Bool("setup", false, "Build or load the vector index of -persona, or of every persona when empty")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	exportPath := flag.String("export", "", "Export the vector index of -persona to this file")
	importPath := flag.String("import", "", "Import the vector index of -persona from this file")
	discard := flag.Bool("discard", false, "Delete the persisted vector index of -persona so the next setup rebuilds it")
	asJSON := flag.Bool("json", false, "Print the -query result as JSON")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	log.Debug().Interface("rag", cfg.RAG).Str("store", cfg.RAG.Store).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exportPath != "" || *importPath != "" {
		transferIndex(ctx, cfg, *personaID, *exportPath, *importPath)
		return
	}

	if *discard {
		discardIndex(ctx, cfg, *personaID)
		return
	}

	registry, closeStore := newRegistry(ctx, cfg)
	defer closeStore()

	switch {
	case *setup:
		setupPersonas(ctx, registry, *personaID)
	case *query != "":
		if *personaID == "" {
			log.Fatal().Msg("Please provide a persona using the -persona flag")
		}
		askPersona(ctx, registry, *personaID, *query, *asJSON)
	case *serve:
		if cfg.RAG.Warmup {
			if err := registry.Warmup(ctx); err != nil {
				log.Error().Err(err).Msg("Warmup incomplete, failed personas will retry on first use")
			}
		}
		serveAPI(ctx, registry, &cfg.Server)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func newStore(ctx context.Context, cfg *config.Config) (vectordb.Store, func()) {
	switch cfg.RAG.Store {
	case "postgres":
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		if err := db.InitDB(ctx, bunDB, cfg.Database.Dim); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		store := db.NewStore(bunDB)
		return store, func() { _ = store.Close() }
	default:
		store, err := chromemdb.NewVectorDBManager(cfg.RAG.StoreDir, cfg.RAG.Compress, cfg.RAG.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Error creating vector database manager")
		}
		return store, func() {}
	}
}

func newRegistry(ctx context.Context, cfg *config.Config) (*rag.Registry, func()) {
	catalogue, err := persona.Load(cfg.PersonasFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading personas")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	generator, err := llmservice.New(ctx, &cfg.InferenceLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing generation client")
	}
	c, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.Overlap())
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chunker")
	}
	store, closeStore := newStore(ctx, cfg)

	registry, err := rag.NewRegistry(catalogue, rag.Dependencies{
		Store:        store,
		Embedder:     embedder,
		EmbedderName: embedding.Name(&cfg.EmbedLLM),
		Generator:    generator,
		Chunker:      c,
	}, rag.Options{
		TopK: cfg.RAG.K(),
		Lazy: cfg.RAG.Lazy(),
	})
	if err != nil {
		closeStore()
		log.Fatal().Err(err).Msg("Error creating persona registry")
	}
	return registry, closeStore
}

func setupPersonas(ctx context.Context, registry *rag.Registry, id string) {
	if id == "" {
		if err := registry.Warmup(ctx); err != nil {
			log.Fatal().Err(err).Msg("Setup failed")
		}
		return
	}
	pl, err := registry.Get(id)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown persona")
	}
	if err := pl.Setup(ctx); err != nil {
		log.Fatal().Err(err).Str("persona", id).Msg("Setup failed")
	}
	log.Info().Str("persona", id).Msg("Pipeline ready")
}

func askPersona(ctx context.Context, registry *rag.Registry, id, question string, asJSON bool) {
	res, err := registry.Query(ctx, id, question)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}
	if asJSON {
		helper.PrettyPrint(res)
		return
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", question)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range res.Sources {
		fmt.Printf("- %s: %s\n", s.Title, s.Excerpt)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", res.Response)
}

func discardIndex(ctx context.Context, cfg *config.Config, id string) {
	if id == "" {
		log.Fatal().Msg("Please provide a persona using the -persona flag")
	}
	store, closeStore := newStore(ctx, cfg)
	defer closeStore()
	if err := store.Discard(ctx, id); err != nil {
		log.Fatal().Err(err).Str("persona", id).Msg("Error discarding index")
	}
	log.Info().Str("persona", id).Msg("Discarded index")
}

func serveAPI(ctx context.Context, registry *rag.Registry, cfg *config.ServerConfig) {
	srv := server.NewServer(registry, cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
		log.Info().Msg("Server stopped")
	}
}

// transferIndex moves a chromem index in or out of a single file
func transferIndex(ctx context.Context, cfg *config.Config, id, exportPath, importPath string) {
	if id == "" {
		log.Fatal().Msg("Please provide a persona using the -persona flag")
	}
	if cfg.RAG.Store != "chromem" {
		log.Fatal().Str("store", cfg.RAG.Store).Msg("Export and import are only supported by the chromem store")
	}
	if err := helper.CreateFolder(cfg.RAG.StoreDir); err != nil {
		log.Fatal().Err(err).Msg("Error creating folder")
	}
	m, err := chromemdb.NewVectorDBManager(cfg.RAG.StoreDir, cfg.RAG.Compress, cfg.RAG.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector database manager")
	}

	if exportPath != "" {
		if err := m.Export(ctx, id, exportPath); err != nil {
			log.Fatal().Err(err).Msg("Error exporting index")
		}
		log.Info().Str("persona", id).Str("file", exportPath).Msg("Exported index")
		return
	}
	if err := m.Import(ctx, id, importPath); err != nil {
		log.Fatal().Err(err).Msg("Error importing index")
	}
	log.Info().Str("persona", id).Str("file", importPath).Msg("Imported index")
}
