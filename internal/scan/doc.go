// Package scan turns raw reader output and operator keystrokes into
// canonical credential identifiers.
//
// A card reader emits bytes. An operator types text. Both become a RawFrame,
// and Normalizer reduces a RawFrame to a CanonicalID: an uppercase
// hexadecimal string whose length lies within configured bounds.
// Normalization is pure and idempotent, so a CanonicalID fed back through
// Normalize comes out unchanged regardless of source.
//
// Assembler splits a continuous device stream into frames on line
// terminators and flushes an unterminated tail once the line goes idle.
package scan
