package protocol

// ArgKind enumerates the primitive argument kinds a message signature
// is built from.
type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgUint
	ArgFixed
	ArgObject
	ArgNewID
	ArgString
	ArgArray
	ArgFD
)

// Signature is the ordered argument kinds of one message.
type Signature []ArgKind

// Files counts the file descriptor slots in the signature.
func (s Signature) Files() int {
	n := 0
	for _, k := range s {
		if k == ArgFD {
			n++
		}
	}
	return n
}

// MessageDesc describes one request or event of an interface. Since is
// the minimum interface version an object must have negotiated for the
// message to be legal.
type MessageDesc struct {
	Name      string
	Since     uint32
	Signature Signature
}

// Interface is the metadata the generated protocol glue supplies for
// one interface: its name, the highest version this build supports,
// and the opcode-ordered request and event tables.
type Interface struct {
	Name     string
	Version  uint32
	Requests []MessageDesc
	Events   []MessageDesc
}

// Request returns the descriptor for a request opcode, or nil when the
// opcode is out of range.
func (i *Interface) Request(opcode uint16) *MessageDesc {
	if int(opcode) >= len(i.Requests) {
		return nil
	}
	return &i.Requests[opcode]
}

// Event returns the descriptor for an event opcode, or nil when the
// opcode is out of range.
func (i *Interface) Event(opcode uint16) *MessageDesc {
	if int(opcode) >= len(i.Events) {
		return nil
	}
	return &i.Events[opcode]
}
