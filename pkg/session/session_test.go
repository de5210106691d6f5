package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/scout/pkg/session"
)

// mapBackend is an in-memory session.Backend.
type mapBackend struct {
	mu      sync.Mutex
	data    map[string]string
	loadErr error
	saves   int
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: map[string]string{}}
}

func (m *mapBackend) Load(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return "", m.loadErr
	}
	id, ok := m.data[sessionID]
	if !ok {
		return "", session.ErrNotFound
	}
	return id, nil
}

func (m *mapBackend) Save(_ context.Context, sessionID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionID] = conversationID
	m.saves++
	return nil
}

func (m *mapBackend) Close() error { return nil }

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

var _ = Describe("Store", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Resolve", func() {
		It("mints a session id when none is given", func() {
			store := session.NewStore(session.Config{NewID: sequentialIDs()})
			b := store.Resolve(ctx, "   ")
			Expect(b.SessionID).To(Equal("id-1"))
			Expect(b.ConversationID).To(Equal("id-2"))
			Expect(b.Provisional).To(BeTrue())
			Expect(b.UpstreamConversationID()).To(BeEmpty())
		})

		It("returns the same binding for the same session", func() {
			store := session.NewStore(session.Config{})
			first := store.Resolve(ctx, "s-1")
			second := store.Resolve(ctx, "s-1")
			Expect(second).To(Equal(first))
			Expect(store.Len()).To(Equal(1))
		})

		It("creates one binding under concurrent first use", func() {
			store := session.NewStore(session.Config{})
			results := make([]session.Binding, 32)

			var wg sync.WaitGroup
			for i := range results {
				wg.Go(func() {
					results[i] = store.Resolve(ctx, "shared")
				})
			}
			wg.Wait()

			for _, b := range results {
				Expect(b.ConversationID).To(Equal(results[0].ConversationID))
			}
		})

		It("reuses the conversation assigned by the upstream", func() {
			store := session.NewStore(session.Config{})
			store.Resolve(ctx, "s-1")
			store.Assign(ctx, "s-1", "conv-9")

			b := store.Resolve(ctx, "s-1")
			Expect(b.ConversationID).To(Equal("conv-9"))
			Expect(b.Provisional).To(BeFalse())
			Expect(b.UpstreamConversationID()).To(Equal("conv-9"))
		})
	})

	Describe("Assign", func() {
		It("ignores blank conversation ids", func() {
			store := session.NewStore(session.Config{})
			before := store.Resolve(ctx, "s-1")
			store.Assign(ctx, "s-1", "")
			Expect(store.Resolve(ctx, "s-1")).To(Equal(before))
		})

		It("lets the last writer win", func() {
			store := session.NewStore(session.Config{})
			store.Assign(ctx, "s-1", "conv-1")
			store.Assign(ctx, "s-1", "conv-2")
			Expect(store.Resolve(ctx, "s-1").ConversationID).To(Equal("conv-2"))
		})
	})

	Describe("bounds", func() {
		It("evicts the least recently used session past capacity", func() {
			store := session.NewStore(session.Config{Capacity: 2})
			a := store.Resolve(ctx, "a")
			store.Resolve(ctx, "b")
			store.Resolve(ctx, "a")
			store.Resolve(ctx, "c")

			Expect(store.Len()).To(Equal(2))
			Expect(store.Resolve(ctx, "a")).To(Equal(a))
			Expect(store.Resolve(ctx, "b").Provisional).To(BeTrue())
		})

		It("expires idle sessions", func() {
			store := session.NewStore(session.Config{TTL: 50 * time.Millisecond})
			first := store.Resolve(ctx, "s-1")

			Eventually(store.Len).WithTimeout(time.Second).Should(BeZero())
			Expect(store.Resolve(ctx, "s-1").ConversationID).NotTo(Equal(first.ConversationID))
		})
	})

	Describe("with a backend", func() {
		It("persists assigned ids and restores them after a restart", func() {
			backend := newMapBackend()
			store := session.NewStore(session.Config{Backend: backend})
			store.Assign(ctx, "s-1", "conv-1")
			Expect(backend.saves).To(Equal(1))

			restarted := session.NewStore(session.Config{Backend: backend})
			b := restarted.Resolve(ctx, "s-1")
			Expect(b.ConversationID).To(Equal("conv-1"))
			Expect(b.Provisional).To(BeFalse())
		})

		It("skips saving an unchanged assignment", func() {
			backend := newMapBackend()
			store := session.NewStore(session.Config{Backend: backend})
			store.Assign(ctx, "s-1", "conv-1")
			store.Assign(ctx, "s-1", "conv-1")
			Expect(backend.saves).To(Equal(1))
		})

		It("does not persist provisional ids", func() {
			backend := newMapBackend()
			store := session.NewStore(session.Config{Backend: backend})
			store.Resolve(ctx, "s-1")
			Expect(backend.data).To(BeEmpty())
		})

		It("treats backend failures as a miss", func() {
			backend := newMapBackend()
			backend.loadErr = errors.New("disk on fire")
			store := session.NewStore(session.Config{Backend: backend})

			b := store.Resolve(ctx, "s-1")
			Expect(b.SessionID).To(Equal("s-1"))
			Expect(b.Provisional).To(BeTrue())
		})
	})
})
