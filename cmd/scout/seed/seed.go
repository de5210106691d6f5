// Package seedcmder provides the seed command, which loads a company corpus
// into the vector store behind the semantic search backend.
package seedcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	servecmder "github.com/papercomputeco/scout/cmd/scout/serve"
	"github.com/papercomputeco/scout/pkg/cliui"
	"github.com/papercomputeco/scout/pkg/config"
	"github.com/papercomputeco/scout/pkg/embeddings"
	"github.com/papercomputeco/scout/pkg/logger"
	"github.com/papercomputeco/scout/pkg/vector"
)

const seedLongDesc string = `Seed companies into the vector store.

Reads a YAML corpus, embeds every company summary and upserts the
documents into the configured vector store collection. Run it before
"scout serve --search-provider semantic".

The file holds a list of companies:

  companies:
    - id: acme-robotics
      name: Acme Robotics
      summary: Builds autonomous picking robots for warehouses.
      industry: [Robotics]
      size: 51-200
      region: [EU]
      tech: [ROS, computer vision]

Examples:
  scout seed companies.yaml
  scout seed companies.yaml --vector-store-provider qdrant --vector-store-target http://localhost:6334
  scout seed companies.yaml --concurrency 8`

const seedShortDesc string = "Seed companies into the vector store"

const defaultConcurrency = 4

// Company is one corpus entry.
type Company struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Summary  string   `yaml:"summary"`
	Industry []string `yaml:"industry"`
	Size     string   `yaml:"size"`
	Region   []string `yaml:"region"`
	Tech     []string `yaml:"tech"`
}

type corpus struct {
	Companies []Company `yaml:"companies"`
}

type seedCommander struct {
	flags       config.Config
	concurrency int
	debug       bool

	viper *viper.Viper
	out   io.Writer
}

var seedFlags = []string{
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
}

func NewSeedCmd() *cobra.Command {
	cmder := &seedCommander{}

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: seedShortDesc,
		Long:  seedLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Registry, seedFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context(), args[0])
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.Registry, config.FlagVectorStoreProv, &f.VectorStore.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagVectorStoreTgt, &f.VectorStore.Target)
	config.AddStringFlag(cmd, config.Registry, config.FlagEmbeddingProv, &f.Embedding.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagEmbeddingTgt, &f.Embedding.Target)
	config.AddStringFlag(cmd, config.Registry, config.FlagEmbeddingModel, &f.Embedding.Model)
	config.AddUintFlag(cmd, config.Registry, config.FlagEmbeddingDims, &f.Embedding.Dimensions)
	cmd.Flags().IntVarP(&cmder.concurrency, "concurrency", "c", defaultConcurrency, "Maximum concurrent embedding requests")

	return cmd
}

func (c *seedCommander) run(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	companies, err := LoadCompanies(f)
	if err != nil {
		return err
	}

	log := logger.New(logger.WithDebug(c.debug), logger.WithWriter(os.Stderr), logger.WithPretty(true))
	driver, embedder, err := servecmder.OpenVectorSearch(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer driver.Close()
	defer embedder.Close()

	var docs []vector.Document
	if err := cliui.Step(c.out, fmt.Sprintf("Embedding %d companies", len(companies)), func() error {
		docs, err = embedAll(ctx, embedder, companies, c.concurrency)
		return err
	}); err != nil {
		return err
	}

	if err := cliui.Step(c.out, "Writing to "+cfg.VectorStore.Provider, func() error {
		return driver.Add(ctx, docs)
	}); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s Seeded %s companies into %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(strconv.Itoa(len(docs))),
		cliui.DimStyle.Render(cfg.VectorStore.Collection),
	)
	return nil
}

// LoadCompanies decodes a corpus. Every company needs an id, a name and a
// summary; ids must be unique.
func LoadCompanies(r io.Reader) ([]Company, error) {
	var c corpus
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("corpus is empty")
		}
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	if len(c.Companies) == 0 {
		return nil, errors.New("corpus has no companies")
	}

	seen := make(map[string]bool, len(c.Companies))
	for i, company := range c.Companies {
		switch {
		case strings.TrimSpace(company.ID) == "":
			return nil, fmt.Errorf("company %d: id is required", i)
		case strings.TrimSpace(company.Name) == "":
			return nil, fmt.Errorf("company %q: name is required", company.ID)
		case strings.TrimSpace(company.Summary) == "":
			return nil, fmt.Errorf("company %q: summary is required", company.ID)
		case seen[company.ID]:
			return nil, fmt.Errorf("company %q: duplicate id", company.ID)
		}
		seen[company.ID] = true
	}
	return c.Companies, nil
}

// embedAll embeds every summary with at most limit requests in flight. The
// first failure cancels the rest.
func embedAll(ctx context.Context, embedder embeddings.Embedder, companies []Company, limit int) ([]vector.Document, error) {
	if limit <= 0 {
		limit = defaultConcurrency
	}

	docs := make([]vector.Document, len(companies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, company := range companies {
		g.Go(func() error {
			embedding, err := embedder.Embed(gctx, company.Summary)
			if err != nil {
				return fmt.Errorf("embedding %q: %w", company.ID, err)
			}
			docs[i] = toDocument(company, embedding)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func toDocument(c Company, embedding []float32) vector.Document {
	metadata := map[string]any{"name": c.Name, "summary": c.Summary}
	if c.Size != "" {
		metadata["size"] = c.Size
	}
	for key, values := range map[string][]string{
		"industry": c.Industry,
		"region":   c.Region,
		"tech":     c.Tech,
	} {
		if len(values) == 0 {
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		metadata[key] = list
	}

	return vector.Document{
		ID:        c.ID,
		Title:     c.Name,
		Content:   c.Summary,
		Metadata:  metadata,
		Embedding: embedding,
	}
}
