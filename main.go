package main

import (
	"context"
	"strings"
	"time"

	"assetgate/auth"
	"assetgate/config"
	"assetgate/db"
	"assetgate/embedding"
	"assetgate/embedding/facerec"
	"assetgate/handlers"
	"assetgate/logger"
	"assetgate/models"
	"assetgate/processing"
	"assetgate/storage"
	"assetgate/utils"
	"assetgate/validation"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/autotls"
	"github.com/gin-gonic/gin"
)

// The script process is stopped after this much inactivity
const scriptIdleTime = 5 * time.Minute

func main() {
	log, err := logger.New(config.LOG_MODE)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	conn := db.Init(config.MYSQL_DSN, config.SQLITE_FILE)
	if err = models.Init(conn); err != nil {
		log.Fatal("auto-migrate error", "error", err)
	}
	if err = storage.Init(conn, config.DEFAULT_BUCKET_DIR); err != nil {
		log.Fatal("storage init error", "error", err)
	}
	bundles := []models.GateConfig{}
	if config.GATE_CONFIG_FILE != "" {
		if bundles, err = models.LoadGateConfigFile(config.GATE_CONFIG_FILE); err != nil {
			log.Fatal("cannot load gate configs", "error", err)
		}
	}
	if err = models.SeedGateConfigs(conn, bundles); err != nil {
		log.Fatal("cannot seed gate configs", "error", err)
	}

	registry, closeEmbedders := initEmbedders(log)
	defer closeEmbedders()

	svc := validation.NewService(conn, log, registry, config.DEFAULT_GATE_CONFIG)
	if config.PROCESSING_ENABLED {
		p := processing.New(conn, log, svc, config.PROCESSING_WORKERS)
		p.ConfigName = config.DEFAULT_GATE_CONFIG
		go p.Start(context.Background())
	}

	if !config.DEBUG_MODE {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	_ = router.SetTrustedProxies([]string{})
	if config.DEBUG_MODE {
		router.Use(utils.ErrorLogMiddleware(log))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "PUT", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        30 * 24 * time.Hour,
	}))
	if !config.DEBUG_MODE {
		router.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	handlers.New(conn, log, svc).Register(&auth.Router{Base: router, AdminToken: config.ADMIN_TOKEN})

	log.Info("server starting", "address", config.BIND_ADDRESS, "tls_domains", config.TLS_DOMAINS)
	if config.TLS_DOMAINS != "" {
		err = autotls.Run(router, strings.Split(config.TLS_DOMAINS, ",")...)
	} else {
		err = router.Run(config.BIND_ADDRESS)
	}
	log.Fatal("server stopped", "error", err)
}

// initEmbedders registers every configured backend, each call bounded by
// EMBEDDING_TIMEOUT_MS.
func initEmbedders(log *logger.Logger) (*embedding.Registry, func()) {
	registry := embedding.NewRegistry()
	timeout := time.Duration(config.EMBEDDING_TIMEOUT_MS) * time.Millisecond
	closers := []func(){}
	for _, backend := range strings.Split(config.EMBEDDING_BACKEND, ",") {
		switch strings.TrimSpace(backend) {
		case "face":
			rec, err := facerec.New(config.FACE_MODELS_DIR, config.FACE_DETECT_CNN)
			if err != nil {
				log.Error("face embedder unavailable", "error", err)
				continue
			}
			registry.Register(facerec.ModelName, embedding.WithTimeout(rec, timeout))
			closers = append(closers, rec.Close)
		case "script":
			script := embedding.NewScriptEmbedder(log, config.TMP_DIR, scriptIdleTime, "python3", config.EMBEDDING_SCRIPT)
			for _, model := range strings.Split(config.SCRIPT_MODELS, ",") {
				if model = strings.TrimSpace(model); model != "" {
					registry.Register(model, embedding.WithTimeout(script, timeout))
				}
			}
			closers = append(closers, script.Close)
		case "":
		default:
			log.Warn("unknown embedding backend", "backend", backend)
		}
	}
	log.Info("embedding models registered", "models", registry.Models())
	return registry, func() {
		for _, c := range closers {
			c()
		}
	}
}
