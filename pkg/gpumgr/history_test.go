package gpumgr

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("snapshot history", func() {

	Context("fullness gating", func() {
		It("is not full before capacity samples arrived", func() {
			h := newSnapshotHistory(6)
			for i := 0; i < 5; i++ {
				h.add(GpuSnapshot{UsedMemGb: 0.1})
				Expect(h.full()).To(BeFalse())
			}
			h.add(GpuSnapshot{UsedMemGb: 0.1})
			Expect(h.full()).To(BeTrue())
		})

		It("stays full while evicting the oldest samples", func() {
			h := newSnapshotHistory(3)
			for i := 0; i < 10; i++ {
				h.add(GpuSnapshot{UsedMemGb: float64(i)})
			}
			Expect(h.full()).To(BeTrue())
			Expect(h.len()).To(Equal(3))
			// only the three newest values remain
			min, err := h.metric(MetricUsedMem, Min)
			Expect(err).NotTo(HaveOccurred())
			Expect(min).To(Equal(7.0))
		})
	})

	Context("metric folding", func() {
		It("computes avg, max and min over the window", func() {
			h := newSnapshotHistory(4)
			for _, v := range []float64{1, 2, 3, 4} {
				h.add(GpuSnapshot{UsedMemGb: v, FreeMemGb: 10 - v, Util: v / 10})
			}
			avg, err := h.metric(MetricUsedMem, Avg)
			Expect(err).NotTo(HaveOccurred())
			Expect(avg).To(Equal(2.5))
			max, err := h.metric(MetricUsedMem, Max)
			Expect(err).NotTo(HaveOccurred())
			Expect(max).To(Equal(4.0))
			min, err := h.metric(MetricFreeMem, Min)
			Expect(err).NotTo(HaveOccurred())
			Expect(min).To(Equal(6.0))
			utilMax, err := h.metric(MetricUtil, Max)
			Expect(err).NotTo(HaveOccurred())
			Expect(utilMax).To(Equal(0.4))
		})

		It("errors on an empty window", func() {
			h := newSnapshotHistory(4)
			_, err := h.metric(MetricUsedMem, Max)
			Expect(err).To(HaveOccurred())
		})
	})

	It("reset empties the window", func() {
		h := newSnapshotHistory(2)
		h.add(GpuSnapshot{})
		h.add(GpuSnapshot{})
		Expect(h.full()).To(BeTrue())
		h.reset()
		Expect(h.full()).To(BeFalse())
		Expect(h.len()).To(Equal(0))
	})
})
