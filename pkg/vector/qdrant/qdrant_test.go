package qdrant_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	scoutlogger "github.com/papercomputeco/scout/pkg/logger"
	"github.com/papercomputeco/scout/pkg/vector"
	"github.com/papercomputeco/scout/pkg/vector/qdrant"
)

var _ = Describe("Driver", func() {
	Describe("NewDriver", func() {
		It("requires a URL", func() {
			_, err := qdrant.NewDriver(context.Background(), qdrant.Config{Dimensions: 4}, scoutlogger.Nop())
			Expect(err).To(MatchError(ContainSubstring("qdrant URL is required")))
		})

		It("requires dimensions", func() {
			_, err := qdrant.NewDriver(context.Background(), qdrant.Config{URL: "http://localhost:6334"}, scoutlogger.Nop())
			Expect(err).To(MatchError(ContainSubstring("dimensions cannot be 0")))
		})
	})

	Describe("PointID", func() {
		It("is a stable UUID per document id", func() {
			id := qdrant.PointID("acme")
			Expect(uuid.Validate(id)).To(Succeed())
			Expect(qdrant.PointID("acme")).To(Equal(id))
			Expect(qdrant.PointID("globex")).NotTo(Equal(id))
		})
	})

	Describe("Payload", func() {
		It("round-trips the document fields and facet lists", func() {
			payload, err := qdrant.Payload(vector.Document{
				ID:      "acme",
				Title:   "Acme",
				Content: "Robots for warehouses",
				Metadata: map[string]any{
					"industry": []string{"AI", "Logistics"},
					"size":     "SME",
				},
			})
			Expect(err).NotTo(HaveOccurred())

			doc := qdrant.DocumentFromPayload(payload)
			Expect(doc.ID).To(Equal("acme"))
			Expect(doc.Title).To(Equal("Acme"))
			Expect(doc.Content).To(Equal("Robots for warehouses"))
			Expect(doc.Metadata).To(Equal(map[string]any{
				"industry": []any{"AI", "Logistics"},
				"size":     "SME",
			}))
		})
	})

	Describe("Interface compliance", func() {
		It("implements vector.Driver", func() {
			var _ vector.Driver = (*qdrant.Driver)(nil)
		})
	})
})
