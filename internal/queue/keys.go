package queue

import "encoding/binary"

// Key layout inside the shared Pebble store. Keys sort lexicographically so a
// forward scan yields enqueue order:
//
//	q/{name}/m            durable queue metadata (lastSeq)
//	q/{name}/e/{seq_be8}  one stored item per row
func metaKey(name string) []byte {
	return []byte("q/" + name + "/m")
}

func rowKey(name string, seq uint64) []byte {
	k := make([]byte, 0, len(name)+13)
	k = append(k, "q/"...)
	k = append(k, name...)
	k = append(k, "/e/"...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

func rowPrefix(name string) []byte {
	return []byte("q/" + name + "/e/")
}

func rowSeq(prefix, key []byte) (uint64, bool) {
	if len(key) < len(prefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}
