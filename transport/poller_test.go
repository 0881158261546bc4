package transport_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/luma/waycore/transport"
)

var _ = Describe("Poller", func() {
	var poller *transport.Poller

	BeforeEach(func() {
		var err error
		poller, err = transport.MakePoller()
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		poller.Close()
	})

	It("returns nothing when no descriptor is ready", func() {
		ready, err := poller.Wait(0)
		Expect(err).To(Succeed())
		Expect(ready).To(BeEmpty())
	})

	It("reports readability once data is queued", func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		Expect(err).To(Succeed())
		defer unix.Close(fds[0])
		defer unix.Close(fds[1])

		Expect(poller.Add(fds[0])).To(Succeed())

		ready, err := poller.Wait(0)
		Expect(err).To(Succeed())
		Expect(ready).To(BeEmpty())

		_, err = unix.Write(fds[1], []byte("hello"))
		Expect(err).To(Succeed())

		ready, err = poller.Wait(1000)
		Expect(err).To(Succeed())
		Expect(ready).To(HaveLen(1))
		Expect(ready[0].Fd).To(Equal(fds[0]))
		Expect(ready[0].Readable).To(BeTrue())
	})

	It("reports writability only when asked", func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		Expect(err).To(Succeed())
		defer unix.Close(fds[0])
		defer unix.Close(fds[1])

		Expect(poller.Add(fds[0])).To(Succeed())

		// An idle socket is writable, but nothing watches for it yet.
		ready, err := poller.Wait(0)
		Expect(err).To(Succeed())
		Expect(ready).To(BeEmpty())

		Expect(poller.SetWritable(fds[0], true)).To(Succeed())

		ready, err = poller.Wait(1000)
		Expect(err).To(Succeed())
		Expect(ready).To(HaveLen(1))
		Expect(ready[0].Writable).To(BeTrue())

		Expect(poller.SetWritable(fds[0], false)).To(Succeed())

		ready, err = poller.Wait(0)
		Expect(err).To(Succeed())
		Expect(ready).To(BeEmpty())
	})

	It("reports a hangup as closed", func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		Expect(err).To(Succeed())
		defer unix.Close(fds[0])

		Expect(poller.Add(fds[0])).To(Succeed())
		Expect(unix.Close(fds[1])).To(Succeed())

		ready, err := poller.Wait(1000)
		Expect(err).To(Succeed())
		Expect(ready).To(HaveLen(1))
		Expect(ready[0].Closed).To(BeTrue())
	})

	It("wakes a blocked wait from another goroutine", func() {
		woke := make(chan struct{})

		go func() {
			defer GinkgoRecover()
			defer close(woke)

			_, err := poller.Wait(5000)
			Expect(err).To(Succeed())
		}()

		Expect(poller.Wake()).To(Succeed())
		Eventually(woke).Should(BeClosed())
	})

	It("stops reporting a removed descriptor", func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		Expect(err).To(Succeed())
		defer unix.Close(fds[0])
		defer unix.Close(fds[1])

		Expect(poller.Add(fds[0])).To(Succeed())
		Expect(poller.Remove(fds[0])).To(Succeed())

		_, err = unix.Write(fds[1], []byte("x"))
		Expect(err).To(Succeed())

		ready, err := poller.Wait(0)
		Expect(err).To(Succeed())
		Expect(ready).To(BeEmpty())
	})
})
