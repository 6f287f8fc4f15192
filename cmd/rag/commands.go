package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperfit/ragengine"
	"github.com/hyperfit/ragengine/internal/config"
	"github.com/hyperfit/ragengine/internal/log"
)

var (
	configPath string
	verbose    bool

	ownerID   int
	topK      int
	minScore  float64
	maxTokens int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: rag.yaml in the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&ownerID, "owner", 0, "owner id scoping uploads and queries")

	searchCmd.Flags().IntVar(&topK, "top-k", ragengine.DefaultTopK, "maximum number of results")
	searchCmd.Flags().Float64Var(&minScore, "min-score", ragengine.DefaultMinScore, "minimum similarity score")
	contextCmd.Flags().IntVar(&maxTokens, "max-tokens", ragengine.DefaultMaxTokens, "context budget in tokens")

	rootCmd.AddCommand(uploadCmd, searchCmd, contextCmd, listCmd, deleteCmd)
}

// newService builds the engine from configuration for one command run.
func newService(ctx context.Context) (*ragengine.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	return ragengine.New(ctx, cfg, logger)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Chunk, embed and index files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = svc.Close()
		}()

		for _, path := range args {
			content, err := os.ReadFile(path) // #nosec G304 -- paths come from the operator
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			result := svc.Upload(cmd.Context(), filepath.Base(path), string(content), nil, ownerID)
			switch result.Status {
			case "indexed":
				fmt.Printf("%s: %s (%d chunks)\n", path, result.DocumentID, result.ChunkCount)
			case "empty":
				fmt.Printf("%s: no indexable content\n", path)
			default:
				return fmt.Errorf("indexing %s: %s", path, result.Error)
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = svc.Close()
		}()

		opts := []ragengine.SearchOption{
			ragengine.WithTopK(topK),
			ragengine.WithMinScore(minScore),
		}
		if ownerID != 0 {
			opts = append(opts, ragengine.WithOwner(ownerID))
		}

		results := svc.Search(cmd.Context(), args[0], opts...)
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%2d. [%.3f] %s#%s\n    %s\n",
				r.Rank, r.Score,
				r.Chunk.Metadata["file_name"], r.Chunk.Metadata["chunk_index"],
				r.Chunk.Text)
		}
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Assemble a bounded context string for a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = svc.Close()
		}()

		opts := []ragengine.SearchOption{ragengine.WithMaxTokens(maxTokens)}
		if ownerID != 0 {
			opts = append(opts, ragengine.WithOwner(ownerID))
		}
		fmt.Println(svc.GetContext(cmd.Context(), args[0], opts...))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = svc.Close()
		}()

		var opts []ragengine.SearchOption
		if ownerID != 0 {
			opts = append(opts, ragengine.WithOwner(ownerID))
		}
		docs := svc.ListDocuments(opts...)
		if len(docs) == 0 {
			fmt.Println("no documents")
			return nil
		}
		for _, doc := range docs {
			fmt.Printf("%s  %-30s  owner=%d  chunks=%d  %s  %s\n",
				doc.ID, doc.Filename, doc.OwnerID, doc.ChunkCount,
				doc.Status, doc.UploadedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Remove a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = svc.Close()
		}()

		ok, err := svc.DeleteDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s: not found\n", args[0])
			return nil
		}
		fmt.Printf("%s: deleted\n", args[0])
		return nil
	},
}
