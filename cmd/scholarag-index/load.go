package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/knoguchi/scholarag/internal/config"
	"github.com/knoguchi/scholarag/internal/embedder"
	"github.com/knoguchi/scholarag/internal/ingestion"
	"github.com/knoguchi/scholarag/internal/searchindex"
	"github.com/knoguchi/scholarag/internal/vectorstore"
)

var loadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Index articles from a JSON lines file",
	Long: `Load reads one article per line ("-" reads stdin) and writes its paragraphs
to the embedded Bleve index at BLEVE_PATH. Each article replaces any previous
load of the same article_id. With --embed, paragraph vectors are also stored in
the Qdrant collection used by the vector reranker.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().Bool("embed", false, "store paragraph embeddings in Qdrant")
	loadCmd.Flags().Int("max-words", 0, "split paragraphs longer than this many words (0 keeps them whole)")

	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	embed, _ := cmd.Flags().GetBool("embed")
	maxWords, _ := cmd.Flags().GetInt("max-words")

	if cfg.IndexDialect != config.DialectBleve {
		slog.Warn("INDEX_DIALECT is not bleve, the service will not read this index", "dialect", cfg.IndexDialect)
	}

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	idx, err := searchindex.OpenBleve(cfg.BlevePath)
	if err != nil {
		return err
	}
	defer idx.Close()

	opts := []ingestion.LoaderOption{
		ingestion.WithMaxWords(maxWords),
		ingestion.WithLogger(slog.Default()),
	}
	if embed {
		store, err := vectorstore.NewQdrantStore(cfg.QdrantGRPCURL, cfg.QdrantCollection)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		defer store.Close()

		opts = append(opts, ingestion.WithVectors(store, embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		})))
	}

	stats, err := ingestion.NewLoader(searchindex.NewBleveWriter(idx), opts...).Load(ctx, in)
	slog.Info("load finished",
		"articles", stats.Articles,
		"paragraphs", stats.Paragraphs,
		"embedded", stats.Embedded,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
	return err
}
