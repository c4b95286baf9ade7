// Package userop implements the pure encoding layer for EntryPoint v0.7
// user operations: credential scoped nonces, 128/128 gas and fee packing,
// the canonical two level hash and the hex wire form consumed by relays.
package userop
