package commands

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jskala/ragdex/internal/ingestion"
	"github.com/jskala/ragdex/internal/logging"
)

// NewIngestCmd constructs the `ragdex ingest` command, which loads local
// files into a tenant's vector index.
func NewIngestCmd() *cobra.Command {
	var user string
	var provider string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Load local files into a tenant's vector index",
		Long: `Decode, split and embed local files into the configured vector store.

Each file becomes one document whose source id is derived from the
provider key and a stable hash of the file path, so re-running the
command skips files that have not changed since the last run.

Required environment variables:
  VECTOR_STORE         Backend: qdrant, sqlite, memory (default: qdrant)
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  ragdex ingest --user alice docs/manual.pdf notes.md
  ragdex ingest --user alice --provider wiki__main exported/*.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if user == "" {
				return fmt.Errorf("ingest: --user is required")
			}
			if !ingestion.ValidProviderID(provider) {
				return fmt.Errorf("ingest: invalid provider id %q", provider)
			}

			rt, err := newRuntime(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			docs := make([]ingestion.Document, 0, len(args))
			for _, path := range args {
				doc, err := documentFromFile(path, provider)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				docs = append(docs, doc)
				log.Info("queued",
					slog.String("file", path),
					slog.String("source_id", doc.SourceID),
					slog.String("media_type", doc.MediaType),
				)
			}

			loaded, err := rt.Pipeline.Ingest(ctx, user, docs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if !loaded {
				return fmt.Errorf("ingest: batch was not fully committed")
			}

			fmt.Printf("loaded %d file(s) for %s\n", len(docs), user)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Tenant whose index receives the files (required)")
	cmd.Flags().StringVar(&provider, "provider", "files__local", "Provider key recorded on every chunk")

	return cmd
}

// documentFromFile reads path and builds an ingestion document with a
// stable source id and the file's modification time.
func documentFromFile(path, provider string) (ingestion.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ingestion.Document{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ingestion.Document{}, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return ingestion.Document{}, err
	}

	return ingestion.Document{
		SourceID:  fmt.Sprintf("%s: %d", provider, pathID(abs)),
		Title:     filepath.Base(abs),
		MediaType: mediaTypeForFile(abs),
		Modified:  strconv.FormatInt(info.ModTime().Unix(), 10),
		Provider:  provider,
		Content:   data,
	}, nil
}

// pathID hashes an absolute path into a stable numeric document id.
func pathID(abs string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(abs))
	return h.Sum32()
}

// mediaTypeForFile maps a file extension to a media type, dropping any
// charset parameter. Unknown extensions fall back to text/plain so the
// lossy decoder still gets a chance.
func mediaTypeForFile(path string) string {
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		return "text/plain"
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
