// Package hash provides the CRC32-Castagnoli checksum used to detect
// corruption of stored signature records.
//
//	sum := hash.CRC32C(payload)
//	if !hash.Verify(payload, stored) { ... }
package hash
