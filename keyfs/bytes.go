package keyfs

// bufsLen returns the total capacity across a vectored I/O buffer list.
func bufsLen(bufs [][]byte) int {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	return total
}

// scatter copies data across bufs in order, returning the number of bytes
// written. Callers must already have checked bufsLen(bufs) >= len(data)
// where the protocol demands an atomic, all-or-nothing delivery.
func scatter(data []byte, bufs [][]byte) uint64 {
	var total uint64
	for _, buf := range bufs {
		if len(data) == 0 {
			break
		}
		n := copy(buf, data)
		data = data[n:]
		total += uint64(n)
	}
	return total
}
