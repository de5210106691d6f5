package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/scout/api"
	"github.com/papercomputeco/scout/pkg/logger"
	"github.com/papercomputeco/scout/pkg/matching"
	"github.com/papercomputeco/scout/pkg/metrics"
	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/session"
	"github.com/papercomputeco/scout/pkg/sse"
	"github.com/papercomputeco/scout/pkg/upstream"
	testutils "github.com/papercomputeco/scout/pkg/utils/test"
	"github.com/papercomputeco/scout/relay"
)

type stubMatcher struct {
	got []matching.Request
}

func (m *stubMatcher) Match(_ context.Context, req matching.Request) matching.Response {
	m.got = append(m.got, req)
	return matching.Placeholder()
}

// pausedRelay emits a session event, waits, then finishes, like a relay
// blocked on a company search.
type pausedRelay struct {
	pause time.Duration
}

func (p pausedRelay) Stream(ctx context.Context, _ relay.Request) iter.Seq[relay.Event] {
	return func(yield func(relay.Event) bool) {
		if !yield(relay.Event{Type: relay.EventSession, Data: "s-1"}) {
			return
		}
		select {
		case <-time.After(p.pause):
		case <-ctx.Done():
			return
		}
		yield(relay.Event{Type: relay.EventDone, Data: "done"})
	}
}

func readEvents(body io.Reader) []sse.Event {
	var out []sse.Event
	r := sse.NewReader(body)
	for {
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		if ev == nil {
			return out
		}
		out = append(out, *ev)
	}
}

func eventTypes(events []sse.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

var _ = Describe("Server", func() {
	var (
		sessions *session.Store
		streamer *testutils.ScriptedStreamer
		searcher *testutils.StubSearcher
		matcher  *stubMatcher
		registry *prometheus.Registry
		server   *api.Server
	)

	BeforeEach(func() {
		sessions = session.NewStore(session.Config{Logger: logger.Nop()})
		streamer = &testutils.ScriptedStreamer{}
		searcher = &testutils.StubSearcher{Documents: []search.Document{
			{ID: "c-1", Title: "Acme Robotics", Content: "Robots", Score: 0.9,
				Metadata: map[string]any{"industry": []any{"AI"}, "region": "EU"}},
			{ID: "c-2", Title: "Blue Retail", Content: "Shops", Score: 0.4,
				Metadata: map[string]any{"industry": []any{"Retail"}, "region": "US"}},
		}}
		matcher = &stubMatcher{}
		registry = prometheus.NewRegistry()

		bridge, err := search.NewBridge(search.BridgeConfig{Searcher: searcher, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())

		r, err := relay.New(relay.Config{
			Sessions: sessions,
			Streamer: streamer,
			Search:   bridge,
			Metrics:  metrics.NewRelay(registry),
			Logger:   logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		server, err = api.NewServer(api.Config{ListenAddr: ":0"}, api.Deps{
			Relay:    r,
			Search:   bridge,
			Matcher:  matcher,
			MCP:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("mcp")) }),
			Gatherer: registry,
			Logger:   logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(sessions.Close()).To(Succeed())
	})

	do := func(req *http.Request) *http.Response {
		resp, err := server.App().Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	It("requires its collaborators", func() {
		_, err := api.NewServer(api.Config{}, api.Deps{Logger: logger.Nop()})
		Expect(err).To(MatchError(ContainSubstring("relay is required")))
	})

	It("answers ping", func() {
		resp := do(httptest.NewRequest(http.MethodGet, "/ping", nil))
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(Equal(`"pong"`))
	})

	Describe("chat stream", func() {
		BeforeEach(func() {
			streamer.Events = []upstream.Event{
				{Kind: upstream.KindToken, Text: "Hello\nthere"},
				{Kind: upstream.KindToolCall, ToolCall: &upstream.ToolCall{
					Name:      upstream.ToolPickCompanies,
					Arguments: map[string]any{"industry": "AI"},
				}},
				{Kind: upstream.KindTerminal},
			}
		})

		It("streams relay events over GET", func() {
			filters := url.QueryEscape(`{"region":["EU"]}`)
			resp := do(httptest.NewRequest(http.MethodGet, "/api/chat/stream?message=robots&sessionId=s-1&filters="+filters, nil))

			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

			events := readEvents(resp.Body)
			Expect(eventTypes(events)).To(Equal([]string{"session", "token", "companies", "done"}))
			Expect(events[0].Data).To(Equal("s-1"))
			Expect(events[1].Data).To(Equal("Hello\nthere"))
			Expect(events[3].Data).To(Equal("done"))

			var cards []search.Card
			Expect(json.Unmarshal([]byte(events[2].Data), &cards)).To(Succeed())
			Expect(cards).To(HaveLen(1))
			Expect(cards[0].ID).To(Equal("c-1"))

			Expect(streamer.Requests()[0].Filters).To(Equal(map[string][]string{"region": {"EU"}}))
		})

		It("streams relay events over POST", func() {
			body := `{"message":"robots","sessionId":"s-2","filters":{"industry":"AI"}}`
			req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp := do(req)

			events := readEvents(resp.Body)
			Expect(eventTypes(events)).To(Equal([]string{"session", "token", "companies", "done"}))
			Expect(events[0].Data).To(Equal("s-2"))
			Expect(streamer.Requests()[0].Filters).To(Equal(map[string][]string{"industry": {"AI"}}))
		})

		It("treats malformed filters as no filters", func() {
			resp := do(httptest.NewRequest(http.MethodGet, "/api/chat/stream?message=robots&filters=%7Bnot-json", nil))

			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			readEvents(resp.Body)
			Expect(streamer.Requests()[0].Filters).To(BeNil())
		})

		It("rejects a blank message", func() {
			resp := do(httptest.NewRequest(http.MethodGet, "/api/chat/stream?message=%20%20", nil))

			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			var out api.ErrorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.Error).To(Equal("message must not be blank"))
			Expect(streamer.Requests()).To(BeEmpty())
		})

		It("rejects a body that is not JSON", func() {
			resp := do(httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader("nope")))
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("company search", func() {
		It("accepts repeated and comma separated facets", func() {
			resp := do(httptest.NewRequest(http.MethodGet, "/api/companies/search?q=robots&industry=ai,retail&region=EU&region=US&limit=5", nil))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var cards []search.Card
			Expect(json.NewDecoder(resp.Body).Decode(&cards)).To(Succeed())
			Expect(cards).To(HaveLen(2))

			Expect(searcher.Calls()).To(HaveLen(1))
			Expect(searcher.Calls()[0].Query).To(Equal("robots industry:ai|retail region:EU|US"))
			Expect(searcher.Calls()[0].TopK).To(Equal(5))
		})

		It("returns an empty array when the backend fails", func() {
			searcher.Err = context.DeadlineExceeded
			resp := do(httptest.NewRequest(http.MethodGet, "/api/companies/search?q=x", nil))

			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("[]"))
		})

		It("rejects an invalid limit", func() {
			resp := do(httptest.NewRequest(http.MethodGet, "/api/companies/search?limit=abc", nil))
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("matching", func() {
		It("validates and forwards the request", func() {
			body := `{"requirements":"  ERP vendor  ","regions":["EU"]}`
			req := httptest.NewRequest(http.MethodPost, "/api/matching", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp := do(req)

			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			var out matching.Response
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.Suggestions).To(HaveLen(2))

			Expect(matcher.got).To(HaveLen(1))
			Expect(matcher.got[0].Requirements).To(Equal("ERP vendor"))
			Expect(matcher.got[0].Regions).To(Equal([]string{"EU"}))
		})

		It("rejects blank requirements", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/matching", bytes.NewReader([]byte(`{"requirements":""}`)))
			resp := do(req)

			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(matcher.got).To(BeEmpty())
		})
	})

	Describe("keep-alive", func() {
		newPausedServer := func(keepAlive time.Duration) *api.Server {
			srv, err := api.NewServer(api.Config{KeepAlive: keepAlive}, api.Deps{
				Relay:  pausedRelay{pause: 150 * time.Millisecond},
				Search: &search.Bridge{},
				Logger: logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())
			return srv
		}

		readBody := func(srv *api.Server) string {
			resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/chat/stream?message=hi", nil), -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			return string(body)
		}

		It("sends comments while the relay is paused", func() {
			body := readBody(newPausedServer(20 * time.Millisecond))
			Expect(body).To(HavePrefix("event: session\ndata: s-1\n\n"))
			Expect(body).To(ContainSubstring(": keep-alive\n\n"))
			Expect(eventTypes(readEvents(strings.NewReader(body)))).To(Equal([]string{"session", "done"}))
		})

		It("can be disabled", func() {
			body := readBody(newPausedServer(-1))
			Expect(body).NotTo(ContainSubstring("keep-alive"))
		})
	})

	It("serves relay metrics", func() {
		streamer.Events = []upstream.Event{{Kind: upstream.KindTerminal}}
		readEvents(do(httptest.NewRequest(http.MethodGet, "/api/chat/stream?message=hi", nil)).Body)

		resp := do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(ContainSubstring(`scout_relay_invocations_total{outcome="done"} 1`))
	})

	It("mounts the MCP handler", func() {
		resp := do(httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}")))
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(Equal("mcp"))
	})
})

var _ = Describe("ParseFilters", func() {
	It("keeps known facets and accepts scalars", func() {
		Expect(api.ParseFilters(`{"industry":["AI"],"size":"SME","color":"red"}`)).To(Equal(search.Filters{
			"industry": {"AI"},
			"size":     {"SME"},
		}))
	})

	It("returns nil for malformed or non-object input", func() {
		Expect(api.ParseFilters(`{`)).To(BeNil())
		Expect(api.ParseFilters(`["AI"]`)).To(BeNil())
		Expect(api.ParseFilters(``)).To(BeNil())
	})
})
