// Package id issues short, time ordered request identifiers.
//
// An ID is 12 bytes: a 48-bit millisecond timestamp, a 16-bit random node
// tag chosen once per Generator, and a 32-bit sequence. The text form is
// lowercase base32hex without padding (20 characters), which sorts the same
// way the bytes do.
//
// Within one Generator IDs strictly increase even when the wall clock steps
// back or more than 2^32 IDs are requested in one millisecond; in both cases
// the generator keeps counting on its last timestamp and borrows the next
// millisecond on sequence overflow.
//
// Usage
//
//	rid := id.New().String()          // package level generator
//	g := id.NewGenerator()
//	parsed, err := id.Parse(g.Next().String())
package id
