package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"atlas-game-engine/internal/app"
	"atlas-game-engine/internal/config"
	"atlas-game-engine/internal/infra/memory"
	pgloader "atlas-game-engine/internal/infra/postgres"
	redisinfra "atlas-game-engine/internal/infra/redis"
	"atlas-game-engine/internal/infra/sqlite"
	transport "atlas-game-engine/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the engine server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session gateway and hub API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	snapshotTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var fileStore *sqlite.Store
	if cfg.SQLite.Path != "" {
		fileStore, err = sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer fileStore.Close()
	}

	// Manifest source: postgres, then sqlite, then the built-in sample.
	var loader memory.ManifestLoader = memory.NewStaticManifestLoader(sampleManifests())
	switch {
	case pool != nil:
		loader = pgloader.NewManifestLoader(pool)
	case fileStore != nil:
		loader = fileStore
	}

	manifestTTL := config.TTLDuration(cfg.Manifest.TTL, 10*time.Minute)
	var manifests app.ManifestRepository
	if redisClient != nil {
		manifests = redisinfra.NewManifestCache(redisClient, loader, manifestTTL)
	} else {
		manifests = memory.NewManifestRepository(loader, manifestTTL)
	}

	// Snapshots: redis when available, sqlite for single-node hosts, else
	// process-local memory (sessions then survive reconnects but not restarts).
	var snapshots app.SnapshotStore
	switch {
	case redisClient != nil:
		snapshots = redisinfra.NewSnapshotStore(redisClient, snapshotTTL)
	case fileStore != nil:
		snapshots = fileStore
	default:
		snapshots = memory.NewSnapshotStore()
	}

	engine := app.NewEngineService(manifests, memory.NewSessionRegistry(),
		app.WithSnapshots(snapshots),
		app.WithWarn(func(err error) { log.Printf("engine: %v", err) }),
	)
	hubs := app.NewHubService(engine, memory.NewHubRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", transport.NewWSHandler(engine).ServeWS)
	transport.NewHubHandler(hubs).Register(mux)

	server := &http.Server{
		Addr: ":" + finalPort,
		// Websocket connections are long-lived, so only the handshake gets a
		// read deadline.
		ReadHeaderTimeout: 15 * time.Second,
		Handler:           mux,
	}

	go func() {
		log.Printf("starting atlas engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleManifests seeds the demo game so the engine is playable with no
// database configured.
func sampleManifests() map[string][]byte {
	return map[string][]byte{
		"demo-expedition": []byte(demoExpedition),
	}
}

const demoExpedition = `{
	"schemaVersion": "1.0.0",
	"gameId": "demo-expedition",
	"metadata": {
		"title": "Demo Expedition",
		"description": "A short guided climb through the engine's scene types.",
		"durationMinutes": 10,
		"difficulty": "beginner"
	},
	"startScene": "intro",
	"scenes": [
		{
			"sceneId": "intro",
			"type": "introduction",
			"title": "Base Camp",
			"body": "Welcome to the expedition. Learn the ropes, then prove it.",
			"required": true,
			"navigation": {"next": "briefing"}
		},
		{
			"sceneId": "briefing",
			"type": "dialogue",
			"title": "The Briefing",
			"required": true,
			"lines": [
				{"speaker": "Guide", "text": "The pass is icy this week."},
				{"speaker": "Guide", "text": "Do we take the long trail or the ridge?"}
			],
			"choices": [
				{"choiceId": "long-trail", "text": "The long trail, safety first", "target": "gear-check"},
				{"choiceId": "ridge", "text": "The ridge, we have the gear", "target": "gear-check"}
			],
			"navigation": {"next": "gear-check"}
		},
		{
			"sceneId": "gear-check",
			"type": "quiz",
			"title": "Gear Check",
			"required": true,
			"questions": [
				{
					"questionId": "q-rope",
					"kind": "multiple-choice",
					"prompt": "Which rope for a glacier crossing?",
					"options": [
						{"optionId": "rope-static", "text": "Static rope"},
						{"optionId": "rope-dynamic", "text": "Dynamic rope", "correct": true}
					],
					"points": 2,
					"competencies": {"gear": 1}
				},
				{
					"questionId": "q-pack",
					"kind": "multiple-select",
					"prompt": "What goes in the summit pack?",
					"options": [
						{"optionId": "pack-water", "text": "Water", "correct": true, "partialCredit": 2},
						{"optionId": "pack-crampons", "text": "Crampons", "correct": true, "partialCredit": 2},
						{"optionId": "pack-anvil", "text": "An anvil"}
					],
					"points": 4,
					"competencies": {"gear": 1, "safety": 0.5}
				}
			],
			"scoring": {"passingScore": 50, "maxAttempts": 3, "penaltyPerRetry": 10},
			"navigation": {"next": "field-notes", "previous": "briefing"}
		},
		{
			"sceneId": "field-notes",
			"type": "resource",
			"title": "Field Notes",
			"body": "Optional reading before the debrief.",
			"links": [
				{"title": "Knots refresher", "url": "https://example.org/knots"}
			],
			"navigation": {"next": "debrief", "previous": "gear-check", "canSkip": true}
		},
		{
			"sceneId": "debrief",
			"type": "summary",
			"title": "Debrief",
			"body": "That is the whole loop: read, choose, answer, review.",
			"navigation": {}
		}
	],
	"achievements": [
		{
			"achievementId": "first-steps",
			"title": "First Steps",
			"requirements": {"scenesCompleted": ["intro"]}
		},
		{
			"achievementId": "gear-master",
			"title": "Gear Master",
			"requirements": {"minScores": [{"sceneId": "gear-check", "percent": 80}]}
		}
	],
	"competencies": {
		"levels": {"novice": 0, "competent": 10, "proficient": 25, "expert": 50, "master": 100}
	}
}`
