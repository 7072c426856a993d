// Package mmap maps cached genome files read-only into memory.
//
// On unix systems the file is mapped with mmap(2) and the kernel is told the
// access pattern, which for sketching is a single sequential pass. Other
// platforms fall back to reading the file into memory.
package mmap
