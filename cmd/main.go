package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpapi "github.com/immxrtalbeast/chatrelay/internal/api/http"
	"github.com/immxrtalbeast/chatrelay/internal/config"
	"github.com/immxrtalbeast/chatrelay/internal/repository"
	"github.com/immxrtalbeast/chatrelay/internal/service"
	"github.com/immxrtalbeast/chatrelay/lib/logger/sl"
	"github.com/immxrtalbeast/chatrelay/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("application stopped", sl.Err(err))
		os.Exit(1)
	}
	log.Info("application stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer store.close(log)

	registry := service.NewRegistry(log)
	roomService := service.NewRoomService(store.rooms, store.messages, registry, cfg.Chat.HistoryLimit, log)
	chatService := service.NewChatService(store.rooms, store.messages, registry, service.ChatOptions{
		HistoryLimit: cfg.Chat.HistoryLimit,
		StoreTimeout: cfg.Chat.StoreTimeout,
	}, log)

	roomController := httpapi.NewRoomController(roomService, chatService, cfg.Chat, cfg.HTTP.AllowedOrigins, log)
	router := httpapi.SetupRouter(roomController, cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting application",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("env", cfg.Env),
			slog.String("database", cfg.Database.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		closed := chatService.Shutdown()
		log.Info("closed chat connections", slog.Int("count", closed))

		// The database closes after run returns, so sessions must be done with it.
		if waitErr := chatService.Wait(shutdownCtx); waitErr != nil {
			log.Warn("chat sessions did not drain", sl.Err(waitErr))
		}
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

type storage struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	db       *gorm.DB
}

func (s *storage) close(log *slog.Logger) {
	if s.db == nil {
		return
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		log.Warn("failed to get database handle", sl.Err(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", sl.Err(err))
	}
}

func openStore(cfg config.DatabaseConfig, log *slog.Logger) (*storage, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory storage, rooms and messages are lost on restart")
		return &storage{
			rooms:    repository.NewInMemoryRoomRepository(),
			messages: repository.NewInMemoryMessageRepository(),
		}, nil
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &storage{
		rooms:    repository.NewSQLRoomRepository(db),
		messages: repository.NewSQLMessageRepository(db),
		db:       db,
	}, nil
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}
