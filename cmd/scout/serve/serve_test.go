package servecmder

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/scout/pkg/config"
	"github.com/papercomputeco/scout/pkg/logger"
)

var _ = Describe("NewServeCmd", func() {
	It("registers the config-backed flags", func() {
		cmd := NewServeCmd()
		for _, key := range serveFlags {
			Expect(cmd.Flags().Lookup(config.Registry[key].Name)).NotTo(BeNil(), key)
		}
		Expect(cmd.Flags().Lookup("log-file")).NotTo(BeNil())
	})
})

var _ = Describe("newStack", func() {
	var (
		ctx context.Context
		cfg *config.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.NewDefaultConfig()
		cfg.Search.Provider = "semantic"
		cfg.Session.Provider = "sqlite"
		cfg.Session.DSN = filepath.Join(GinkgoT().TempDir(), "sessions.db")
	})

	It("wires a server that answers ping", func() {
		s, err := newStack(ctx, cfg, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.close)

		resp, err := s.server.App().Test(httptest.NewRequest("GET", "/ping", nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(Equal(`"pong"`))

		resp, err = s.server.App().Test(httptest.NewRequest("GET", "/metrics", nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
	})

	It("requires a dataset id for the dataset backend", func() {
		cfg.Search.Provider = "dataset"
		_, err := newStack(ctx, cfg, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("dataset id is required")))
	})

	DescribeTable("rejects unknown providers",
		func(mutate func(*config.Config), msg string) {
			mutate(cfg)
			_, err := newStack(ctx, cfg, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("search", func(c *config.Config) { c.Search.Provider = "grep" }, "unsupported search provider"),
		Entry("session", func(c *config.Config) { c.Session.Provider = "redis" }, "unsupported session provider"),
		Entry("events", func(c *config.Config) { c.Events.Provider = "nats" }, "unsupported events provider"),
		Entry("vector store", func(c *config.Config) { c.VectorStore.Provider = "faiss" }, "unsupported vector store provider"),
	)

	It("rejects a malformed session ttl", func() {
		cfg.Session.TTL = "soon"
		_, err := newStack(ctx, cfg, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("session.ttl")))
	})
})

var _ = Describe("newLogger", func() {
	It("also writes JSON records to the log file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "scout.log")
		l, closeLog, err := newLogger(false, path)
		Expect(err).NotTo(HaveOccurred())

		l.Info("relay finished", "session", "s-1")
		Expect(closeLog()).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"msg":"relay finished"`))
		Expect(string(data)).To(ContainSubstring(`"session":"s-1"`))
		Expect(string(data)).NotTo(ContainSubstring(`"source"`))
	})

	It("records call sites in the log file when debugging", func() {
		path := filepath.Join(GinkgoT().TempDir(), "scout.log")
		l, closeLog, err := newLogger(true, path)
		Expect(err).NotTo(HaveOccurred())

		l.Debug("tool call", "session", "s-1")
		Expect(closeLog()).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"msg":"tool call"`))
		Expect(string(data)).To(ContainSubstring(`"source"`))
		Expect(string(data)).To(ContainSubstring("serve_test.go"))
	})
})
