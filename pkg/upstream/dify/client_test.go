package dify_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/scout/pkg/logger"
	"github.com/papercomputeco/scout/pkg/upstream"
	"github.com/papercomputeco/scout/pkg/upstream/dify"
)

func collect(seq func(func(upstream.Event) bool)) []upstream.Event {
	var out []upstream.Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func streamLines(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n\n", line)
		w.(http.Flusher).Flush()
	}
}

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *dify.Client
		cfg     dify.Config
	)

	BeforeEach(func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			streamLines(w, `data: {"event":"message_end"}`)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		cfg = dify.Config{
			BaseURL: server.URL,
			APIKey:  "app-key",
			Logger:  logger.Nop(),
		}
	})

	JustBeforeEach(func() {
		var err error
		client, err = dify.NewClient(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Open", func() {
		It("sends the chat request and decodes the stream", func() {
			var (
				gotPath   string
				gotAuth   string
				gotAccept string
				gotBody   map[string]any
			)
			handler = func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				gotAccept = r.Header.Get("Accept")
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &gotBody)
				streamLines(w,
					`event: ping`,
					`data: {"event":"message","answer":"Hel","conversation_id":"c-1"}`,
					`data: {"event":"message","answer":"lo","conversation_id":"c-1"}`,
					`data: {"event":"message_end","conversation_id":"c-1"}`,
				)
			}

			events := collect(client.Open(context.Background(), upstream.Request{
				Message:        "find robots",
				SessionID:      "s-1",
				ConversationID: "c-0",
				Filters:        map[string][]string{"industry": {"AI"}, "size": nil},
			}))

			Expect(gotPath).To(Equal("/v1/chat-messages"))
			Expect(gotAuth).To(Equal("Bearer app-key"))
			Expect(gotAccept).To(Equal("text/event-stream"))
			Expect(gotBody).To(HaveKeyWithValue("query", "find robots"))
			Expect(gotBody).To(HaveKeyWithValue("response_mode", "streaming"))
			Expect(gotBody).To(HaveKeyWithValue("user", "s-1"))
			Expect(gotBody).To(HaveKeyWithValue("conversation_id", "c-0"))
			inputs := gotBody["inputs"].(map[string]any)
			Expect(inputs).To(HaveKeyWithValue("system_prompt", dify.DefaultSystemPrompt))
			Expect(inputs).To(HaveKeyWithValue("filters", map[string]any{"industry": []any{"AI"}}))

			Expect(kinds(events)).To(Equal([]upstream.Kind{
				upstream.KindConversationAssigned, upstream.KindToken,
				upstream.KindConversationAssigned, upstream.KindToken,
				upstream.KindTerminal,
			}))
			Expect(events[1].Text + events[3].Text).To(Equal("Hello"))
		})

		It("omits conversation_id and filters when absent", func() {
			var gotBody map[string]any
			handler = func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &gotBody)
				streamLines(w, "data: [DONE]")
			}

			collect(client.Open(context.Background(), upstream.Request{Message: "hi"}))
			Expect(gotBody).NotTo(HaveKey("conversation_id"))
			Expect(gotBody["inputs"]).NotTo(HaveKey("filters"))
			Expect(gotBody["user"]).NotTo(BeEmpty())
		})

		It("reports non-2xx responses as a single error", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":"invalid_param","message":"Conversation Not Exists."}`))
			}

			events := collect(client.Open(context.Background(), upstream.Request{Message: "hi"}))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(upstream.KindError))
			Expect(events[0].Err.Error()).To(ContainSubstring("status 400"))
			Expect(events[0].Err.Error()).To(ContainSubstring("Conversation Not Exists."))
		})

		It("reports unreachable upstreams as a single error", func() {
			server.Close()

			events := collect(client.Open(context.Background(), upstream.Request{Message: "hi"}))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(upstream.KindError))
		})

		It("stops after an in-stream error record", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				streamLines(w,
					`data: {"event":"message","answer":"a"}`,
					`data: {"event":"error","message":"boom"}`,
					`data: {"event":"message","answer":"never"}`,
				)
			}

			events := collect(client.Open(context.Background(), upstream.Request{Message: "hi"}))
			Expect(kinds(events)).To(Equal([]upstream.Kind{upstream.KindToken, upstream.KindError}))
		})

		It("yields an error when ranged twice", func() {
			seq := client.Open(context.Background(), upstream.Request{Message: "hi"})
			collect(seq)

			events := collect(seq)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Err).To(MatchError(dify.ErrStreamConsumed))
		})

		Context("with short timeouts", func() {
			BeforeEach(func() {
				cfg.ResponseTimeout = 50 * time.Millisecond
				cfg.StreamTimeout = 200 * time.Millisecond
			})

			It("maps a slow response to an upstream timeout", func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					select {
					case <-r.Context().Done():
					case <-time.After(2 * time.Second):
					}
				}

				events := collect(client.Open(context.Background(), upstream.Request{Message: "hi"}))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Err).To(MatchError(dify.ErrTimeout))
			})

			It("maps a stalled stream to an upstream timeout after delivered tokens", func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					streamLines(w, `data: {"event":"message","answer":"partial"}`)
					select {
					case <-r.Context().Done():
					case <-time.After(2 * time.Second):
					}
				}

				events := collect(client.Open(context.Background(), upstream.Request{Message: "hi"}))
				Expect(kinds(events)).To(Equal([]upstream.Kind{upstream.KindToken, upstream.KindError}))
				Expect(events[1].Err).To(MatchError(dify.ErrTimeout))
			})
		})

		It("cancels the upstream request when the consumer stops early", func() {
			cancelled := make(chan struct{})
			handler = func(w http.ResponseWriter, r *http.Request) {
				streamLines(w, `data: {"event":"message","answer":"first"}`)
				<-r.Context().Done()
				close(cancelled)
			}

			for ev := range client.Open(context.Background(), upstream.Request{Message: "hi"}) {
				Expect(ev.Text).To(Equal("first"))
				break
			}

			Eventually(cancelled).Should(BeClosed())
		})
	})

	Describe("SubmitToolOutputs", func() {
		It("posts the outputs for the tool call", func() {
			var (
				gotPath string
				gotBody map[string]any
			)
			handler = func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &gotBody)
				w.WriteHeader(http.StatusOK)
			}

			err := client.SubmitToolOutputs(context.Background(), "m-1", "t-1", map[string]any{"companies": []string{}})
			Expect(err).NotTo(HaveOccurred())
			Expect(gotPath).To(Equal("/v1/chat-messages/m-1/tool-outputs"))
			Expect(gotBody).To(HaveKeyWithValue("tool_call_id", "t-1"))
			Expect(gotBody).To(HaveKeyWithValue("outputs", map[string]any{"companies": []any{}}))
		})

		It("skips calls without identifiers", func() {
			called := false
			handler = func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}

			Expect(client.SubmitToolOutputs(context.Background(), "", "t-1", nil)).To(Succeed())
			Expect(called).To(BeFalse())
		})

		It("returns an error for rejected submissions", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}

			err := client.SubmitToolOutputs(context.Background(), "m-1", "t-1", nil)
			Expect(err).To(MatchError(ContainSubstring("status 404")))
		})
	})
})
