package server

import (
	"context"
	"log"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"medirag/app/api"
	"medirag/loader/extract"
	"medirag/loader/service"
	"medirag/model"
	"medirag/rag"
	"medirag/store"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
	BodyLimit:    50 * 1024 * 1024, // PDFs
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
	cancel     context.CancelFunc
}

func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
}

func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("error during shutdown", "error", err)
		}
	}
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	cfg := service.ConfigFromEnv()

	st := store.NewStore(cfg.StoreDir)
	res := rag.NewResources(st)
	engine := rag.NewEngine(res)

	embedder, err := res.Embedder()
	if err != nil {
		log.Fatal("embedder configuration: ", err)
	}

	extractor := extract.NewPDFExtractor(model.NewVisionClient())
	builder := service.NewBuilder(cfg, extractor, embedder, st)
	builder.AfterBuild = func() {
		// A new index generation is on disk; cached resources are stale.
		res.Reset()
		if cfg.WarmupOnIngest {
			res.WarmupAsync(false)
		}
	}

	svc := service.New(cfg, builder)
	if err := svc.EnsureSourceDir(); err != nil {
		log.Fatal("cannot create source directory: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go svc.Watch(ctx)
	res.WarmupAsync(false)

	var (
		app           = fiber.New(config)
		checkHandler  = api.NewCheckHandler(res)
		askHandler    = api.NewAskHandler(engine)
		uploadHandler = api.NewUploadHandler(svc)
		check         = app.Group("/check")
		apiGroup      = app.Group("/api")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Post("/warmup", checkHandler.HandleWarmup)
	apiGroup.Post("/ask", askHandler.HandleAsk)
	apiGroup.Post("/ask/stream", askHandler.HandleAskStream)
	apiGroup.Get("/source/:doc_id", askHandler.HandleSource)
	apiGroup.Post("/upload", uploadHandler.HandleUpload)
	apiGroup.Get("/upload/status/:id", uploadHandler.HandleUploadStatus)

	s.app = app
	if err := app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
	}
}
