package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	config "github.com/davicafu/casillero/internal/config"
	ingestaApp "github.com/davicafu/casillero/internal/ingesta/application"
	ingestaDomain "github.com/davicafu/casillero/internal/ingesta/domain"
	ingestaEmail "github.com/davicafu/casillero/internal/ingesta/infra/inbound/email"
	ingestaHttp "github.com/davicafu/casillero/internal/ingesta/infra/inbound/http"
	ingestaSftp "github.com/davicafu/casillero/internal/ingesta/infra/inbound/sftp"
	ingestaPostgres "github.com/davicafu/casillero/internal/ingesta/infra/outbound/db/postgre"
	ingestaSQLite "github.com/davicafu/casillero/internal/ingesta/infra/outbound/db/sqlite"
	"github.com/davicafu/casillero/internal/ingesta/infra/outbound/storage"
	notificaApp "github.com/davicafu/casillero/internal/notifica/application"
	notificaDomain "github.com/davicafu/casillero/internal/notifica/domain"
	notificaPostgres "github.com/davicafu/casillero/internal/notifica/infra/outbound/db/postgre"
	notificaSQLite "github.com/davicafu/casillero/internal/notifica/infra/outbound/db/sqlite"
	notificaEmail "github.com/davicafu/casillero/internal/notifica/infra/outbound/email"
	"github.com/davicafu/casillero/internal/notifica/infra/outbound/webhook"
	"github.com/davicafu/casillero/internal/notifica/infra/scheduler"
	sharedEvents "github.com/davicafu/casillero/internal/shared/events"
	infraCache "github.com/davicafu/casillero/internal/shared/infra/cache"
	infraEvents "github.com/davicafu/casillero/internal/shared/infra/events"
	sharedBus "github.com/davicafu/casillero/internal/shared/platform/bus"
	sharedCache "github.com/davicafu/casillero/internal/shared/platform/cache"
	"github.com/davicafu/casillero/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init()          // inicializa zap
	log := logger.Logger() // obtiene logger estructurado
	defer log.Sync()       // flush buffers al salir

	ctx := context.Background()
	cfg := config.LoadConfig()

	// ---------------- DB ----------------
	var db *sql.DB
	var err error

	var execRepo ingestaDomain.ExecutionRepository
	var casillaDir ingestaDomain.CasillaDirectory
	var eventRepo notificaDomain.EventRepository
	var subRepo notificaDomain.SubscriptionRepository
	var pendingRepo notificaDomain.PendingEventRepository
	var notifRepo notificaDomain.NotificationRepository

	if cfg.LocalDeployment {
		db, err = sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		if err := ingestaSQLite.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite (ingesta)", zap.Error(err))
		}
		if err := notificaSQLite.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite (notifica)", zap.Error(err))
		}

		localDir := ingestaSQLite.NewCasillaDirectorySQLite(db)
		execRepo = ingestaSQLite.NewExecutionRepoSQLite(db)
		casillaDir = localDir
		eventRepo = notificaSQLite.NewEventRepoSQLite(db)
		subRepo = notificaSQLite.NewSubscriptionRepoSQLite(db)
		pendingRepo = notificaSQLite.NewPendingEventRepoSQLite(db)
		notifRepo = notificaSQLite.NewNotificationRepoSQLite(db)

		if cfg.CasillasPath != "" {
			seedCasillas(ctx, cfg.CasillasPath, localDir, log)
		}
	} else {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}

		execRepo = ingestaPostgres.NewExecutionRepoPostgres(db)
		casillaDir = ingestaPostgres.NewCasillaDirectoryPostgres(db)
		eventRepo = notificaPostgres.NewEventRepoPostgres(db)
		subRepo = notificaPostgres.NewSubscriptionRepoPostgres(db)
		pendingRepo = notificaPostgres.NewPendingEventRepoPostgres(db)
		notifRepo = notificaPostgres.NewNotificationRepoPostgres(db)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
			cacheInstance = infraCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		} else {
			cacheInstance = infraCache.NewRedisCache(rdb, cfg.CacheTTL)
			log.Info("✅ Redis conectado, cache habilitado")
		}
	} else {
		cacheInstance = infraCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
	}

	// ---------------- Events ---------------
	var eventPublisher sharedBus.EventPublisher
	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")
		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		defer writer.Close()
		eventPublisher = infraEvents.NewKafkaPublisher(writer, log)
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		eventPublisher = infraEvents.NewInMemoryEventBus(sharedEvents.PipelineTopic)
	}

	// --------------- Servicios --------------
	archivoStore := storage.NewFilesystemArchivoStore(cfg.ArchivoDir)
	pipeline := ingestaApp.NewPipelineService(
		execRepo, casillaDir, archivoStore, eventRepo,
		cacheInstance, eventPublisher, 4, log)

	fanout := notificaApp.NewFanoutWorker(
		eventRepo, subRepo, pendingRepo, cfg.FanoutPeriod, cfg.FanoutLimit, log)
	batcher := notificaApp.NewBatcher(
		subRepo, eventRepo, pendingRepo, notifRepo, cfg.BatchPeriod, 0, log)

	var mailSender notificaDomain.MailSender = notificaEmail.NewSendGridSender(
		cfg.SendgridAPIKey, cfg.MailFrom, cfg.MailFromName)
	webhookSender := webhook.NewRestySender(15 * time.Second)

	dispatcher := notificaApp.NewDispatcher(
		notifRepo, subRepo, mailSender, webhookSender,
		cfg.DispatchPeriod, 0, cfg.DispatchMaxAttempts,
		cfg.DispatchBackoffBase, cfg.DispatchBackoffMax, log)

	// ------------- Scheduler ---------------
	sched := scheduler.New(log)
	sched.Register("fanout", scheduler.Every(cfg.FanoutPeriod), fanout.ProcessBatch)
	sched.Register("batch", scheduler.Every(cfg.BatchPeriod), batcher.ProcessBatch)
	sched.Register("dispatch", scheduler.Every(cfg.DispatchPeriod), dispatcher.ProcessBatch)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	// ------------- Polling de canales ------
	// El canal sftp se sirve desde un directorio local (montado por el
	// servidor sftp del despliegue).
	sftpPoller := ingestaSftp.NewPoller(
		ingestaSftp.NewLocalDirRemote(cfg.DropDir), pipeline, cfg.SFTPPollPeriod, log)
	sftpPoller.Start(ctx)

	// El canal email se enciende cuando el despliegue monta los buzones en
	// un directorio local; un cliente IMAP real entraría por el mismo puerto.
	if cfg.MailDropDir != "" {
		log.Info("📧 canal email habilitado", zap.String("dir", cfg.MailDropDir))
		emailPoller := ingestaEmail.NewPoller(
			ingestaEmail.NewLocalDropClient(cfg.MailDropDir), pipeline, cfg.EmailPollPeriod, log)
		emailPoller.Start(ctx)
	}

	// ---------------- HTTP ----------------
	handler := ingestaHttp.NewIngestaHandler(pipeline)
	router := gin.Default()
	ingestaHttp.RegisterIngestaRoutes(router, handler)

	log.Info("🚀 Server running",
		zap.String("url", "http://localhost:"+cfg.HTTPPort),
	)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal("failed to start server: %v", zap.Error(err))
	}
}

// seedCasillas carga el fichero YAML de casillas y lo vuelca en el directorio
// local, leyendo el documento de reglas de cada entrada.
func seedCasillas(ctx context.Context, path string, dir *ingestaSQLite.CasillaDirectorySQLite, log *zap.Logger) {
	cs, err := config.LoadCasillas(path)
	if err != nil {
		log.Fatal("failed to load casillas file", zap.Error(err))
	}
	for _, entry := range cs.Casillas {
		id, err := uuid.Parse(entry.ID)
		if err != nil {
			log.Fatal("invalid casilla id", zap.String("id", entry.ID), zap.Error(err))
		}
		spec, err := os.ReadFile(entry.RuleSpecPath)
		if err != nil {
			log.Fatal("failed to read rule spec",
				zap.String("casilla", entry.Nombre), zap.Error(err))
		}
		c := &ingestaDomain.Casilla{
			ID:             id,
			Nombre:         entry.Nombre,
			Active:         true,
			InboundAddress: entry.Buzon,
			RuleSpec:       spec,
		}
		if err := dir.SeedCasilla(ctx, c); err != nil {
			log.Fatal("failed to seed casilla",
				zap.String("casilla", entry.Nombre), zap.Error(err))
		}
	}
	log.Info("📦 casillas sembradas", zap.Int("total", len(cs.Casillas)))
}
