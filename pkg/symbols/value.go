package symbols

import "encoding/binary"

// WordSize is the size of an integer and of a string's length word.
const WordSize = 8

// StringSize is the storage a string of n bytes needs: the length word
// plus the bytes rounded up to whole words.
func StringSize(n int) int {
	return WordSize + (n+WordSize-1)/WordSize*WordSize
}

// StringWords lays s out as a length word followed by its bytes,
// zero-padded to capacity bytes. capacity must be at least StringSize(len(s)).
func StringWords(s string, capacity int) []uint64 {
	buf := make([]byte, capacity)
	binary.LittleEndian.PutUint64(buf, uint64(len(s)))
	copy(buf[WordSize:], s)
	words := make([]uint64, capacity/WordSize)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(buf[i*WordSize:])
	}
	return words
}

// WordBytes is the little-endian image of words, as stored in memory.
func WordBytes(words []uint64) []byte {
	buf := make([]byte, len(words)*WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*WordSize:], w)
	}
	return buf
}
