package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"driftsync.app/core/internal/queue"
)

var _ = Describe("ParseNotice", func() {
	It("parses a well-formed notice", func() {
		notice, err := queue.ParseNotice(redis.XMessage{
			ID: "1700000000000-0",
			Values: map[string]interface{}{
				"entry_id": "4242",
				"trace_id": "trace-abc",
			},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(notice.ID).To(Equal("1700000000000-0"))
		Expect(notice.EntryID).To(Equal(int64(4242)))
		Expect(notice.TraceID).To(Equal("trace-abc"))
	})

	It("tolerates a missing trace ID", func() {
		notice, err := queue.ParseNotice(redis.XMessage{
			ID:     "1700000000000-1",
			Values: map[string]interface{}{"entry_id": "7"},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(notice.EntryID).To(Equal(int64(7)))
		Expect(notice.TraceID).To(BeEmpty())
	})

	It("rejects a notice without an entry ID", func() {
		_, err := queue.ParseNotice(redis.XMessage{
			ID:     "1700000000000-2",
			Values: map[string]interface{}{"trace_id": "trace-abc"},
		})

		Expect(err).To(HaveOccurred())
	})

	It("rejects a non-numeric entry ID", func() {
		_, err := queue.ParseNotice(redis.XMessage{
			ID:     "1700000000000-3",
			Values: map[string]interface{}{"entry_id": "not-a-number"},
		})

		Expect(err).To(HaveOccurred())
	})
})
