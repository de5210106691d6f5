package mcp_test

import (
	"context"
	"encoding/json"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/scout/api/mcp"
	"github.com/papercomputeco/scout/pkg/logger"
	"github.com/papercomputeco/scout/pkg/search"
	testutils "github.com/papercomputeco/scout/pkg/utils/test"
)

var _ = Describe("MCP Server", func() {
	var (
		searcher *testutils.StubSearcher
		server   *mcp.Server
	)

	BeforeEach(func() {
		searcher = &testutils.StubSearcher{Documents: []search.Document{
			{ID: "c-1", Title: "Acme Robotics", Content: "Robots", Score: 0.9,
				Metadata: map[string]any{"industry": []any{"AI"}, "region": "EU"}},
			{ID: "c-2", Title: "Blue Retail", Content: "Shops", Score: 0.4,
				Metadata: map[string]any{"industry": []any{"Retail"}}},
		}}
		bridge, err := search.NewBridge(search.BridgeConfig{Searcher: searcher, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())

		server, err = mcp.NewServer(mcp.Config{Search: bridge, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		It("returns an error when search is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("company search is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Search: &search.Bridge{}})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("builds an empty server in noop mode", func() {
			s, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Handler()).NotTo(BeNil())
		})
	})

	Describe("pick_companies", func() {
		var session *sdk.ClientSession

		BeforeEach(func() {
			ctx := context.Background()
			clientTransport, serverTransport := sdk.NewInMemoryTransports()

			serverSession, err := server.MCPServer().Connect(ctx, serverTransport, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(serverSession.Close)

			client := sdk.NewClient(&sdk.Implementation{Name: "test", Version: "v0"}, nil)
			session, err = client.Connect(ctx, clientTransport, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(session.Close)
		})

		It("is listed", func() {
			tools, err := session.ListTools(context.Background(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(tools.Tools).To(HaveLen(1))
			Expect(tools.Tools[0].Name).To(Equal("pick_companies"))
		})

		It("returns filtered cards as structured and text content", func() {
			res, err := session.CallTool(context.Background(), &sdk.CallToolParams{
				Name:      "pick_companies",
				Arguments: map[string]any{"q": "robots", "industry": []string{"ai"}, "limit": 5},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			Expect(searcher.Calls()).To(HaveLen(1))
			Expect(searcher.Calls()[0].Query).To(Equal("robots industry:ai"))
			Expect(searcher.Calls()[0].TopK).To(Equal(5))

			Expect(res.Content).To(HaveLen(1))
			text, ok := res.Content[0].(*sdk.TextContent)
			Expect(ok).To(BeTrue())

			var out mcp.PickCompaniesOutput
			Expect(json.Unmarshal([]byte(text.Text), &out)).To(Succeed())
			Expect(out.Count).To(Equal(1))
			Expect(out.Companies[0].ID).To(Equal("c-1"))

			structured, ok := res.StructuredContent.(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(structured).To(HaveKeyWithValue("count", float64(1)))
		})

		It("degrades a backend failure to an empty list", func() {
			searcher.Err = context.DeadlineExceeded

			res, err := session.CallTool(context.Background(), &sdk.CallToolParams{
				Name:      "pick_companies",
				Arguments: map[string]any{"q": "robots"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			structured, ok := res.StructuredContent.(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(structured).To(HaveKeyWithValue("count", float64(0)))
			Expect(structured).To(HaveKeyWithValue("companies", BeEmpty()))
		})
	})
})
