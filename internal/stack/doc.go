// Package stack owns the frame storage shared by the acquisition and
// reduction workers.
//
// Responsibilities: the fixed-capacity FrameStack (depth frames plus their
// capture timestamps) and the DoubleBuffer that alternates two stacks
// between the single writer (Acquirer) and the single reader (Reducer).
// Key types: FrameStack, BufferState, DoubleBuffer, Lease.
//
// Handoff rule: the only shared mutable state is the ready flag, updated
// atomically through MarkReady and observed through WaitAndTakeReady. Stack
// contents are never locked; exclusivity comes from the alternation of the
// active slot, backed by the generation and lease checks in BeginFill and
// MarkReady.
package stack
