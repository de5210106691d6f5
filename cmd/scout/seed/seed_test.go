package seedcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/scout/pkg/logger"
	"github.com/papercomputeco/scout/pkg/vector/chromem"
)

const corpusYAML = `companies:
  - id: acme-robotics
    name: Acme Robotics
    summary: Builds autonomous picking robots for warehouses.
    industry: [Robotics, AI]
    size: 51-200
    region: [EU]
    tech: [ROS]
  - id: shopline
    name: Shopline
    summary: Retail analytics for mid-size chains.
    industry: [Retail]
    region: [US]
`

type countingEmbedder struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     string

	mu    sync.Mutex
	texts []string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()

	if e.fail != "" && strings.Contains(text, e.fail) {
		return nil, errors.New("model unavailable")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e *countingEmbedder) Close() error { return nil }

var _ = Describe("LoadCompanies", func() {
	It("decodes every company", func() {
		companies, err := LoadCompanies(strings.NewReader(corpusYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(companies).To(HaveLen(2))
		Expect(companies[0].Industry).To(Equal([]string{"Robotics", "AI"}))
		Expect(companies[0].Size).To(Equal("51-200"))
		Expect(companies[1].Tech).To(BeEmpty())
	})

	DescribeTable("rejects invalid corpora",
		func(raw, msg string) {
			_, err := LoadCompanies(strings.NewReader(raw))
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("empty file", "", "corpus is empty"),
		Entry("no companies", "companies: []\n", "no companies"),
		Entry("missing id", "companies:\n  - name: A\n    summary: s\n", "id is required"),
		Entry("missing name", "companies:\n  - id: a\n    summary: s\n", "name is required"),
		Entry("missing summary", "companies:\n  - id: a\n    name: A\n", "summary is required"),
		Entry("duplicate id", "companies:\n  - {id: a, name: A, summary: s}\n  - {id: a, name: B, summary: t}\n", "duplicate id"),
		Entry("malformed yaml", "companies: [", "parsing corpus"),
	)
})

var _ = Describe("embedAll", func() {
	companies := func(n int) []Company {
		out := make([]Company, n)
		for i := range out {
			out[i] = Company{ID: string(rune('a' + i)), Name: "Co", Summary: strings.Repeat("x", i+1)}
		}
		return out
	}

	It("keeps corpus order and bounds concurrency", func() {
		e := &countingEmbedder{}
		docs, err := embedAll(context.Background(), e, companies(10), 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(10))
		for i, d := range docs {
			Expect(d.Embedding[0]).To(Equal(float32(i + 1)))
		}
		Expect(e.peak.Load()).To(BeNumerically("<=", 3))
	})

	It("returns the first embedding failure", func() {
		e := &countingEmbedder{fail: "xxxx"}
		_, err := embedAll(context.Background(), e, companies(6), 2)
		Expect(err).To(MatchError(ContainSubstring("model unavailable")))
	})
})

var _ = Describe("toDocument", func() {
	It("stores facets as lists and skips empty ones", func() {
		doc := toDocument(Company{
			ID:       "acme",
			Name:     "Acme",
			Summary:  "Robots",
			Industry: []string{"AI"},
		}, []float32{1})
		Expect(doc.Title).To(Equal("Acme"))
		Expect(doc.Content).To(Equal("Robots"))
		Expect(doc.Metadata).To(HaveKeyWithValue("industry", []any{"AI"}))
		Expect(doc.Metadata).To(HaveKeyWithValue("name", "Acme"))
		Expect(doc.Metadata).NotTo(HaveKey("region"))
		Expect(doc.Metadata).NotTo(HaveKey("size"))
	})
})

var _ = Describe("seed command", func() {
	It("embeds the corpus and writes it to the vector store", func() {
		var calls atomic.Int32
		ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			out := make([][]float32, len(req.Input))
			for i := range out {
				out[i] = []float32{0.1, 0.2, 0.3}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
		}))
		DeferCleanup(ollama.Close)

		dir := GinkgoT().TempDir()
		corpusPath := filepath.Join(dir, "companies.yaml")
		Expect(os.WriteFile(corpusPath, []byte(corpusYAML), 0o600)).To(Succeed())
		storePath := filepath.Join(dir, "vectors")

		cmd := NewSeedCmd()
		cmd.Flags().String("config-dir", filepath.Join(dir, ".scout"), "")
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs([]string{
			corpusPath,
			"--vector-store-provider", "chromem",
			"--vector-store-target", storePath,
			"--embedding-target", ollama.URL,
			"--embedding-dimensions", "3",
		})
		Expect(cmd.Execute()).To(Succeed())
		Expect(calls.Load()).To(Equal(int32(2)))
		Expect(out.String()).To(ContainSubstring("Seeded"))

		driver, err := chromem.NewDriver(chromem.Config{Path: storePath}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(driver.Close)

		docs, err := driver.Get(context.Background(), []string{"acme-robotics", "shopline"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(2))
		Expect(docs[0].Title).To(Equal("Acme Robotics"))
		Expect(docs[0].Metadata["region"]).To(Equal([]any{"EU"}))
	})

	It("requires a corpus argument", func() {
		cmd := NewSeedCmd()
		cmd.SetArgs([]string{})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		Expect(cmd.Execute()).To(HaveOccurred())
	})
})
