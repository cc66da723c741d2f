package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"medirag/loader/extract"
	"medirag/loader/service"
	"medirag/model"
	"medirag/store"
)

// Standalone ingester: builds a fresh index generation from the PDFs given
// on the command line (or everything in the source directory) without
// starting the HTTP service.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, relying on environment")
	}

	cfg := service.ConfigFromEnv()

	embedder, err := model.NewOpenAIEmbedder()
	if err != nil {
		log.Fatal("embedder configuration: ", err)
	}

	extractor := extract.NewPDFExtractor(model.NewVisionClient())
	st := store.NewStore(cfg.StoreDir)
	builder := service.NewBuilder(cfg, extractor, embedder, st)
	svc := service.New(cfg, builder)

	paths := os.Args[1:]
	if len(paths) == 0 {
		if err := svc.EnsureSourceDir(); err != nil {
			log.Fatal("cannot create source directory: ", err)
		}
		paths, err = svc.SourcePDFs()
		if err != nil {
			log.Fatal("cannot list source directory: ", err)
		}
		log.Printf("no paths given, ingesting %d PDF(s) under %s", len(paths), cfg.SourceDir)
	}

	ok := svc.IngestPaths(context.Background(), paths, func(pct int, detail string) {
		fmt.Printf("[%3d%%] %s\n", pct, detail)
	})
	if !ok {
		log.Fatal("ingestion failed")
	}
	log.Printf("index built under %s", cfg.StoreDir)
}
