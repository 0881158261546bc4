package protocol

import "strconv"

// ObjectID identifies a protocol object within one connection's
// namespace. Zero is reserved and never refers to a live object.
type ObjectID uint32

func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Message is one decoded frame: the target object, the opcode within
// that object's interface, the raw argument payload and any file
// descriptors received alongside it. Messages are ephemeral; they are
// built by the Framer and consumed by the dispatcher.
type Message struct {
	Object  ObjectID
	Opcode  uint16
	Payload []byte
	Files   []int
}
