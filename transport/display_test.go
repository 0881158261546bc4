package transport_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/waycore/protocol"
	"github.com/luma/waycore/registry"
	"github.com/luma/waycore/transport"
	"github.com/luma/waycore/wire"
)

var _ = Describe("Display", func() {
	var (
		dir     string
		path    string
		display *transport.Display
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "display-test")
		Expect(err).To(Succeed())
		path = filepath.Join(dir, "wayland-test")

		display = transport.NewDisplay(transport.Options{
			SocketPath: path,
			OnConnect: func(conn *transport.Conn) error {
				// Echo the poke argument back as a poked event.
				return conn.Objects().BindServer(&registry.Record{
					ID:        3,
					Interface: echoIface,
					Version:   1,
					Handler: registry.HandlerFunc(func(msg *protocol.Message) error {
						v, err := wire.NewDecoder(msg.Payload, msg.Files).Uint32()
						if err != nil {
							return err
						}

						var enc wire.Encoder
						enc.PutUint32(v + 1)
						return conn.Enqueue(3, 0, enc.Bytes(), nil)
					}),
				})
			},
		})

		Expect(display.Start(context.Background())).To(Succeed())
	})

	AfterEach(func() {
		display.Close()
		os.RemoveAll(dir)
	})

	It("binds the socket at the requested path", func() {
		Expect(display.Path()).To(Equal(path))

		_, err := os.Stat(path)
		Expect(err).To(Succeed())
	})

	It("removes the socket file on close", func() {
		Expect(display.Close()).To(Succeed())

		_, err := os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("serves a connected client end to end", func() {
		sock, err := transport.Connect(path)
		Expect(err).To(Succeed())

		conn := transport.NewClientConn(sock, nil)
		defer conn.Close()

		Expect(conn.Objects().BindServer(&registry.Record{
			ID:        3,
			Interface: echoIface,
			Version:   1,
		})).To(Succeed())

		var enc wire.Encoder
		enc.PutUint32(41)
		Expect(conn.Enqueue(3, 0, enc.Bytes(), nil)).To(Succeed())
		Expect(conn.Flush()).To(Succeed())

		var msgs []*protocol.Message
		Eventually(func() int {
			got, rerr := conn.Receive()
			Expect(rerr).To(Succeed())
			msgs = append(msgs, got...)
			return len(msgs)
		}, time.Second, time.Millisecond).Should(Equal(1))

		Expect(msgs[0].Object).To(Equal(protocol.ObjectID(3)))
		Expect(msgs[0].Opcode).To(Equal(uint16(0)))
		Expect(wire.NewDecoder(msgs[0].Payload, nil).Uint32()).To(Equal(uint32(42)))
	})

	It("reports connections and objects in its snapshot", func() {
		sock, err := transport.Connect(path)
		Expect(err).To(Succeed())

		conn := transport.NewClientConn(sock, nil)
		defer conn.Close()

		// Nudge the server so the accept definitely happened.
		var enc wire.Encoder
		enc.PutUint32(1)
		Expect(conn.Enqueue(3, 0, enc.Bytes(), nil)).To(Succeed())
		Expect(conn.Flush()).To(Succeed())

		Eventually(func() int64 {
			state := display.Snapshot()
			return gjson.GetBytes(state, "connections.#").Int()
		}, time.Second, time.Millisecond).Should(Equal(int64(1)))

		state := display.Snapshot()
		Expect(gjson.GetBytes(state, "socket").String()).To(Equal(path))
		Expect(gjson.GetBytes(state, "connections.0.objects.0.id").Int()).To(Equal(int64(3)))
		Expect(gjson.GetBytes(state, "connections.0.objects.0.interface").String()).To(Equal("test_echo"))
	})

	It("serves snapshots while clients come and go", func() {
		done := make(chan struct{})

		go func() {
			defer GinkgoRecover()
			defer close(done)

			for i := 0; i < 50; i++ {
				sock, err := transport.Connect(path)
				Expect(err).To(Succeed())

				conn := transport.NewClientConn(sock, nil)

				var enc wire.Encoder
				enc.PutUint32(uint32(i))
				Expect(conn.Enqueue(3, 0, enc.Bytes(), nil)).To(Succeed())
				Expect(conn.Flush()).To(Succeed())
				Expect(conn.Close()).To(Succeed())
			}
		}()

		for {
			select {
			case <-done:
				return
			default:
				Expect(gjson.ValidBytes(display.Snapshot())).To(BeTrue())
			}
		}
	})

	It("drops a client that hangs up", func() {
		sock, err := transport.Connect(path)
		Expect(err).To(Succeed())

		conn := transport.NewClientConn(sock, nil)

		var enc wire.Encoder
		enc.PutUint32(1)
		Expect(conn.Enqueue(3, 0, enc.Bytes(), nil)).To(Succeed())
		Expect(conn.Flush()).To(Succeed())

		Eventually(func() int64 {
			return gjson.GetBytes(display.Snapshot(), "connections.#").Int()
		}, time.Second, time.Millisecond).Should(Equal(int64(1)))

		Expect(conn.Close()).To(Succeed())

		Eventually(func() int64 {
			return gjson.GetBytes(display.Snapshot(), "connections.#").Int()
		}, time.Second, time.Millisecond).Should(Equal(int64(0)))
	})
})
