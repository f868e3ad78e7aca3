package pipecontrol

import (
	"fmt"

	"github.com/danmuck/pipectl/internal/protocol/frame"
)

// InterfaceID identifies one logical interface multiplexed on a pipe.
type InterfaceID uint32

const (
	// MasterInterfaceID is the pipe's primary interface.
	MasterInterfaceID InterfaceID = 0

	// InvalidInterfaceID is never allocated to an interface. On the wire it
	// marks a message as pipe-control traffic.
	InvalidInterfaceID InterfaceID = 0xFFFFFFFF

	// InterfaceIDNamespaceMask is set on ids allocated by the non-primary side
	// of a pipe so the two sides never hand out the same id.
	InterfaceIDNamespaceMask InterfaceID = 0x80000000
)

// RunOrClosePipeMessageID is the only message name control receivers accept.
const RunOrClosePipeMessageID uint32 = 0xFFFFFFFE

func (id InterfaceID) IsValid() bool {
	return id != InvalidInterfaceID
}

func (id InterfaceID) IsMaster() bool {
	return id == MasterInterfaceID
}

// HasNamespaceBit reports whether id was allocated by the non-primary side.
func (id InterfaceID) HasNamespaceBit() bool {
	return id.IsValid() && id&InterfaceIDNamespaceMask != 0
}

func (id InterfaceID) String() string {
	if !id.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint32(id))
}

// IsPipeControlMessage reports whether msg belongs to this sub-protocol. The
// message name plays no part in the decision. A nil msg is not control
// traffic.
func IsPipeControlMessage(msg *frame.Message) bool {
	if msg == nil {
		return false
	}
	return InterfaceID(msg.Header.InterfaceID) == InvalidInterfaceID
}
