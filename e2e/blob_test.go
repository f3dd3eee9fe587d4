//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/jacentio/ddblob/backend"
	"github.com/jacentio/ddblob/store"
	"github.com/jacentio/ddblob/task"
)

func commit(key, header, meta, value string) {
	b := testStore.CreateBlob(key)
	b.WriteHeader([]byte(header))
	b.WriteMeta([]byte(meta))
	b.WriteValue([]byte(value))
	_, err := b.Sync(context.Background(), task.Sync).Get()
	Expect(err).NotTo(HaveOccurred())
}

func blobExists(key string) bool {
	ok, err := testStore.BlobExists(context.Background(), key, task.Sync).Get()
	Expect(err).NotTo(HaveOccurred())
	return ok
}

var _ = Describe("blob store", func() {
	ctx := context.Background()

	for _, mode := range []struct {
		name string
		opts task.Options
	}{{"sync", task.Sync}, {"async", task.Async}} {
		opts := mode.opts

		Context("in "+mode.name+" mode", func() {
			It("round-trips header, meta and value", func() {
				key := uniqueKey("roundtrip")
				b := testStore.CreateBlob(key)
				b.WriteHeader([]byte{0x01, 0x02})
				b.WriteMeta([]byte("meta"))
				b.WriteValue([]byte("value"))
				_, err := b.Sync(ctx, opts).Get()
				Expect(err).NotTo(HaveOccurred())

				r := testStore.CreateBlob(key)
				header, err := r.ReadHeader(ctx, opts).Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(header).To(Equal([]byte{0x01, 0x02}))

				meta, err := r.ReadMeta(ctx, opts).Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(string(meta)).To(Equal("meta"))

				var value []byte
				var length int64
				_, err = r.ReadBinary(ctx, opts, func(rd io.Reader, size int64) error {
					length = size
					var readErr error
					value, readErr = io.ReadAll(rd)
					return readErr
				}).Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(length).To(Equal(int64(5)))
				Expect(string(value)).To(Equal("value"))
			})

			It("refuses to commit an incomplete row", func() {
				key := uniqueKey("incomplete")
				b := testStore.CreateBlob(key)
				b.WriteHeader([]byte("h"))
				_, err := b.Sync(ctx, opts).Get()
				Expect(err).To(MatchError(store.ErrRowIncomplete))
				Expect(blobExists(key)).To(BeFalse())
			})

			It("reports existence before and after a write and after a delete", func() {
				key := uniqueKey("exists")
				Expect(blobExists(key)).To(BeFalse())
				commit(key, "h", "m", "v")
				Expect(blobExists(key)).To(BeTrue())

				_, err := testStore.DeleteBlob(ctx, key, opts).Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(blobExists(key)).To(BeFalse())
			})

			It("moves a blob atomically", func() {
				from, to := uniqueKey("from"), uniqueKey("to")
				commit(from, "h", "m", "payload")

				_, err := testStore.AtomicMove(ctx, from, to, opts).Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(blobExists(from)).To(BeFalse())

				v, err := testStore.CreateBlob(to).ReadValue(ctx, opts).Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal("payload"))
			})
		})
	}

	It("copies a blob", func() {
		from, to := uniqueKey("copy-from"), uniqueKey("copy-to")
		commit(from, "h", "m", "copied")

		_, err := testStore.Copy(ctx, from, to, task.Async).Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(blobExists(from)).To(BeTrue())
		Expect(blobExists(to)).To(BeTrue())
	})

	It("lists committed keys", func() {
		a, b, c := uniqueKey("list-a"), uniqueKey("list-b"), uniqueKey("list-c")
		commit(a, "h", "m", "v")
		commit(b, "h", "m", "v")
		commit(c, "h", "m", "v")
		_, err := testStore.DeleteBlob(ctx, b, task.Sync).Get()
		Expect(err).NotTo(HaveOccurred())

		keys, err := testStore.ListKeys(ctx, task.Async).Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(ContainElements(a, c))
		Expect(keys).NotTo(ContainElement(b))
	})

	Describe("multi-key operations", func() {
		It("writes, reads and deletes several keys", func() {
			u1, u2, u3 := uniqueKey("u1"), uniqueKey("u2"), uniqueKey("u3")

			written, err := testStore.MultiWrite(ctx, map[string]backend.Fields{
				u1: {Header: []byte("h1"), Meta: []byte("m1"), Value: []byte("v1")},
				u2: {Header: []byte("h2"), Meta: []byte("m2"), Value: []byte("v2")},
			}, task.Async).Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(Equal(map[string]bool{u1: true, u2: true}))

			blobs, err := testStore.MultiRead(ctx, []string{u1, u2, u3}, task.Async).Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(blobs).To(HaveLen(2))
			Expect(blobs).NotTo(HaveKey(u3))
			v, err := blobs[u2].ReadValue(ctx, task.Sync).Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(v)).To(Equal("v2"))

			deleted, err := testStore.MultiDelete(ctx, []string{u1, u2, u3}, task.Async).Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(map[string]bool{u1: true, u2: true, u3: false}))

			blobs, err = testStore.MultiRead(ctx, []string{u1, u2}, task.Async).Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(blobs).To(BeEmpty())
		})

		It("rejects more than 100 keys", func() {
			keys := make([]string, 101)
			for i := range keys {
				keys[i] = fmt.Sprintf("limit-%d", i)
			}
			_, err := testStore.MultiRead(ctx, keys, task.Sync).Get()
			Expect(store.IsKind(err, store.KindLimitExceeded)).To(BeTrue())
		})

		It("writes the full 100 keys in one transaction", func() {
			records := make(map[string]backend.Fields, 100)
			keys := make([]string, 0, 100)
			for i := 0; i < 100; i++ {
				k := uniqueKey(fmt.Sprintf("bulk-%d", i))
				keys = append(keys, k)
				records[k] = backend.Fields{Header: []byte{1}, Meta: []byte{2}, Value: []byte(k)}
			}
			_, err := testStore.MultiWrite(ctx, records, task.Sync).Get()
			Expect(err).NotTo(HaveOccurred())

			blobs, err := testStore.MultiRead(ctx, keys, task.Sync).Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(blobs).To(HaveLen(100))
		})
	})
})
