package main

import (
	"log"
	"net/http"
	"os"

	"videoAssess/config"
	"videoAssess/core"
	"videoAssess/processors"
	"videoAssess/server"
	"videoAssess/storage"
)

func main() {
	if err := os.MkdirAll(core.DataRoot(), 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.HasValidAPI() {
		config.PrintConfigInstructions()
		log.Fatalf("missing API configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	stores := storage.InitStores(cfg)
	backend := os.Getenv("STORE")
	if backend == "" {
		backend = "memory"
	}
	log.Printf("Session store initialized: %s", backend)

	jobs := core.NewMemoryJobStore(cfg.JobRetention())
	defer jobs.Close()
	cache := core.NewResultCache(cfg.CacheTTL())
	defer cache.Close()

	coordinator := processors.NewCoordinator(cfg, jobs, cache,
		processors.PickASRProvider(cfg),
		processors.NewOpenAIVisionClient(cfg),
		processors.NewChatRoleClassifier(cfg),
		processors.NewChatEvaluator(cfg),
		stores,
	)

	mux := http.NewServeMux()
	server.NewServer(coordinator, stores, cache, jobs).Routes(mux)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	log.Printf("Server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
