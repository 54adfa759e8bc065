package schema

// Snapshot record layout constants. Both peers must agree on these; changing
// any of them is a protocol version bump.
const (
	// Alignment of every field slot and of the record header.
	Alignment = 16
	// TickBytes is the tick stamp at the start of every record.
	TickBytes = 4
	// BufferSlotBytes is the fixed slot a buffer field occupies in the
	// record: element count plus payload offset. The elements themselves
	// live in a separate variable-size area.
	BufferSlotBytes = 8
	// BufferMaskBits is the change-mask cost of a buffer field (length
	// changed, contents changed).
	BufferMaskBits = 2
)

// Align rounds n up to the next multiple of Alignment.
func Align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// MaskWords is the number of 32-bit words needed for bits mask bits.
func MaskWords(bits int) int {
	return (bits + 31) / 32
}

// HeaderBytes is the aligned size of the record header: tick, change-mask
// words and enable-bit words.
func HeaderBytes(changeMaskBits, enableBits int) int {
	return Align(TickBytes + MaskWords(changeMaskBits)*4 + MaskWords(enableBits)*4)
}
