package rtspserver

// ConnStats are connection statistics.
type ConnStats struct {
	BytesReceived uint64
	BytesSent     uint64
}
