package packet

// Protocol opcodes. Both peers share one registry, so client and server
// opcodes never overlap.
const (
	// C_OPCODE_VERSION: [D protocol][S node name]
	C_OPCODE_VERSION byte = 0x01
	// C_OPCODE_GHOST_ACK: [D activated ghost types]
	C_OPCODE_GHOST_ACK byte = 0x02

	// S_OPCODE_VERSION: [D protocol][S node name]
	S_OPCODE_VERSION byte = 0x81
	// S_OPCODE_GHOST_LIST: [D index][16 ghost type][Q type hash][S name]
	S_OPCODE_GHOST_LIST byte = 0x82
	// S_OPCODE_LIST_SYNC: [D entries sent so far]; the server has no more
	// content to stream for now.
	S_OPCODE_LIST_SYNC byte = 0x83
	// S_OPCODE_DISCONNECT: [C reason]; the connection closes after it.
	// Clients send it too when they abort a session.
	S_OPCODE_DISCONNECT byte = 0x84
)
