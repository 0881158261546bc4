package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/waycore/protocol"
	"github.com/luma/waycore/wire"
)

func mustEncode(object protocol.ObjectID, opcode uint16, payload []byte) []byte {
	b, err := protocol.EncodeMessage(object, opcode, payload)
	Expect(err).To(Succeed())
	return b
}

var _ = Describe("Header", func() {
	It("round trips through PutHeader and ParseHeader", func() {
		b := make([]byte, protocol.HeaderSize)
		protocol.PutHeader(b, protocol.Header{Object: 0x10000001, Opcode: 0xabcd, Size: 0xff00})

		h := protocol.ParseHeader(b)
		Expect(h.Object).To(Equal(protocol.ObjectID(0x10000001)))
		Expect(h.Opcode).To(Equal(uint16(0xabcd)))
		Expect(h.Size).To(Equal(uint16(0xff00)))
	})
})

var _ = Describe("EncodeMessage", func() {
	It("frames a payload with its header", func() {
		payload := []byte{1, 2, 3, 4}
		b := mustEncode(7, 3, payload)

		Expect(b).To(HaveLen(12))

		h := protocol.ParseHeader(b)
		Expect(h.Object).To(Equal(protocol.ObjectID(7)))
		Expect(h.Opcode).To(Equal(uint16(3)))
		Expect(h.Size).To(Equal(uint16(12)))
		Expect(b[protocol.HeaderSize:]).To(Equal(payload))
	})

	It("rejects an unaligned payload", func() {
		_, err := protocol.EncodeMessage(1, 0, []byte{1, 2, 3})
		Expect(errors.Is(err, protocol.ErrMalformedMessage)).To(BeTrue())
	})

	It("rejects a message past the 16-bit size field", func() {
		_, err := protocol.EncodeMessage(1, 0, make([]byte, 1<<16))
		Expect(errors.Is(err, protocol.ErrMessageTooLarge)).To(BeTrue())
	})

	It("accepts the largest aligned message", func() {
		b := mustEncode(1, 0, make([]byte, 65524))
		Expect(protocol.ParseHeader(b).Size).To(Equal(uint16(65532)))
	})
})

var _ = Describe("Framer", func() {
	It("returns nothing until a whole header arrives", func() {
		f := protocol.NewFramer()
		f.Push([]byte{1, 2, 3}, nil)

		msg, err := f.Next()
		Expect(err).To(Succeed())
		Expect(msg).To(BeNil())
		Expect(f.Buffered()).To(Equal(3))
	})

	It("decodes one whole message", func() {
		f := protocol.NewFramer()

		var enc wire.Encoder
		enc.PutUint32(0xdeadbeef)
		f.Push(mustEncode(3, 1, enc.Bytes()), nil)

		msg, err := f.Next()
		Expect(err).To(Succeed())
		Expect(msg).NotTo(BeNil())
		Expect(msg.Object).To(Equal(protocol.ObjectID(3)))
		Expect(msg.Opcode).To(Equal(uint16(1)))
		Expect(wire.NewDecoder(msg.Payload, nil).Uint32()).To(Equal(uint32(0xdeadbeef)))
		Expect(f.Buffered()).To(Equal(0))
	})

	It("decodes identically however the bytes are split", func() {
		var enc wire.Encoder
		enc.PutUint32(7)
		enc.PutString("split me")

		stream := append(mustEncode(1, 0, enc.Bytes()), mustEncode(2, 5, nil)...)

		for cut := 0; cut <= len(stream); cut++ {
			f := protocol.NewFramer()
			f.Push(stream[:cut], nil)

			var msgs []*protocol.Message
			for {
				msg, err := f.Next()
				Expect(err).To(Succeed())
				if msg == nil {
					break
				}
				msgs = append(msgs, msg)
			}

			f.Push(stream[cut:], nil)
			for {
				msg, err := f.Next()
				Expect(err).To(Succeed())
				if msg == nil {
					break
				}
				msgs = append(msgs, msg)
			}

			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Object).To(Equal(protocol.ObjectID(1)))
			Expect(msgs[1].Object).To(Equal(protocol.ObjectID(2)))
			Expect(msgs[1].Opcode).To(Equal(uint16(5)))
			Expect(f.Buffered()).To(Equal(0))
		}
	})

	It("surfaces several messages from one push", func() {
		f := protocol.NewFramer()

		stream := append(mustEncode(1, 0, nil), mustEncode(2, 0, nil)...)
		stream = append(stream, mustEncode(3, 0, nil)...)
		f.Push(stream, nil)

		for want := protocol.ObjectID(1); want <= 3; want++ {
			msg, err := f.Next()
			Expect(err).To(Succeed())
			Expect(msg.Object).To(Equal(want))
		}

		msg, err := f.Next()
		Expect(err).To(Succeed())
		Expect(msg).To(BeNil())
	})

	It("rejects a header declaring a size below the header size", func() {
		b := make([]byte, protocol.HeaderSize)
		protocol.PutHeader(b, protocol.Header{Object: 1, Opcode: 0, Size: 4})

		f := protocol.NewFramer()
		f.Push(b, nil)

		_, err := f.Next()
		Expect(errors.Is(err, protocol.ErrMalformedMessage)).To(BeTrue())
	})

	It("rejects a header declaring an unaligned size", func() {
		b := make([]byte, protocol.HeaderSize)
		protocol.PutHeader(b, protocol.Header{Object: 1, Opcode: 0, Size: 13})

		f := protocol.NewFramer()
		f.Push(b, nil)

		_, err := f.Next()
		Expect(errors.Is(err, protocol.ErrMalformedMessage)).To(BeTrue())
	})

	Describe("file descriptor queue", func() {
		It("hands out descriptors in arrival order", func() {
			f := protocol.NewFramer()
			f.Push(nil, []int{10, 11})
			f.Push(nil, []int{12})

			Expect(f.TakeFiles(2)).To(Equal([]int{10, 11}))
			Expect(f.TakeFiles(1)).To(Equal([]int{12}))
			Expect(f.TakeFiles(1)).To(BeNil())
		})

		It("takes at most what is queued", func() {
			f := protocol.NewFramer()
			f.Push(nil, []int{10})

			Expect(f.TakeFiles(5)).To(Equal([]int{10}))
		})

		It("drains everything on teardown", func() {
			f := protocol.NewFramer()
			f.Push(nil, []int{10, 11, 12})

			Expect(f.DrainFiles()).To(Equal([]int{10, 11, 12}))
			Expect(f.DrainFiles()).To(BeEmpty())
		})
	})
})

var _ = Describe("Interface", func() {
	iface := &protocol.Interface{
		Name:    "test_iface",
		Version: 3,
		Requests: []protocol.MessageDesc{
			{Name: "first", Since: 1, Signature: protocol.Signature{protocol.ArgUint}},
			{Name: "second", Since: 2, Signature: protocol.Signature{protocol.ArgFD, protocol.ArgString, protocol.ArgFD}},
		},
		Events: []protocol.MessageDesc{
			{Name: "ping", Since: 1},
		},
	}

	It("resolves opcodes in range and rejects the rest", func() {
		Expect(iface.Request(0).Name).To(Equal("first"))
		Expect(iface.Request(1).Name).To(Equal("second"))
		Expect(iface.Request(2)).To(BeNil())

		Expect(iface.Event(0).Name).To(Equal("ping"))
		Expect(iface.Event(1)).To(BeNil())
	})

	It("counts fd slots in a signature", func() {
		Expect(iface.Request(0).Signature.Files()).To(Equal(0))
		Expect(iface.Request(1).Signature.Files()).To(Equal(2))
	})
})
