package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/recollectco/recollect/pkg/memstore"
	"github.com/recollectco/recollect/pkg/memstore/inmemory"
)

var _ = Describe("Client", func() {
	var (
		client *inmemory.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		client = inmemory.NewClient()
		ctx = context.Background()
	})

	Describe("Add", func() {
		It("reports an ADD event with a fresh id for new text", func() {
			resp, err := client.Add(ctx, "I like coffee", "alice", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(HaveLen(1))
			Expect(resp.Results[0].Kind).To(Equal(memstore.EventAdd))
			Expect(resp.Results[0].ID).NotTo(BeEmpty())
			Expect(resp.Results[0].Memory).To(Equal("I like coffee"))
		})

		It("reports an UPDATE event for text that normalizes to an existing document", func() {
			first, err := client.Add(ctx, "I like coffee", "alice", nil)
			Expect(err).NotTo(HaveOccurred())

			second, err := client.Add(ctx, "  i LIKE   coffee ", "alice", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Results).To(HaveLen(1))
			Expect(second.Results[0].Kind).To(Equal(memstore.EventUpdate))
			Expect(second.Results[0].ID).To(Equal(first.Results[0].ID))
		})

		It("keeps users isolated", func() {
			_, err := client.Add(ctx, "I like coffee", "alice", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.Add(ctx, "I like coffee", "bob", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results[0].Kind).To(Equal(memstore.EventAdd))

			summaries, err := client.GetAll(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
		})
	})

	Describe("GetAll", func() {
		It("returns summaries in insertion order", func() {
			_, err := client.Add(ctx, "first memory", "alice", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Add(ctx, "second memory", "alice", nil)
			Expect(err).NotTo(HaveOccurred())

			summaries, err := client.GetAll(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(2))
			Expect(summaries[0].Memory).To(Equal("first memory"))
			Expect(summaries[1].Memory).To(Equal("second memory"))
		})

		It("returns an empty slice for an unknown user", func() {
			summaries, err := client.GetAll(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(BeEmpty())
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			_, err := client.Add(ctx, "I drink coffee every morning", "alice", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Add(ctx, "my cat sleeps all day", "alice", nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("ranks documents by token overlap", func() {
			hits, err := client.Search(ctx, "alice", "coffee morning", 10, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].Memory).To(Equal("I drink coffee every morning"))
			Expect(hits[0].Score).To(BeNumerically(">", 0))
		})

		It("restricts results to the given id set", func() {
			hits, err := client.Search(ctx, "alice", "coffee", 10, []string{})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(BeEmpty())
		})

		It("caps results at the limit", func() {
			_, err := client.Add(ctx, "coffee beans", "alice", nil)
			Expect(err).NotTo(HaveOccurred())

			hits, err := client.Search(ctx, "alice", "coffee", 1, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
		})
	})

	Describe("Delete", func() {
		It("removes the document", func() {
			resp, err := client.Add(ctx, "to be removed", "alice", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Delete(ctx, resp.Results[0].ID)).To(Succeed())

			summaries, err := client.GetAll(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(BeEmpty())
		})

		It("returns ErrNotFound for an unknown id", func() {
			Expect(client.Delete(ctx, "missing")).To(MatchError(memstore.ErrNotFound))
		})
	})
})
