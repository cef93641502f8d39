package rtspserver

// ServerStreamStatsMedia are stream media statistics.
type ServerStreamStatsMedia struct {
	// sent bytes
	BytesSent uint64
	// number of sent RTP packets
	RTPPacketsSent uint64
	// number of sent RTCP packets
	RTCPPacketsSent uint64
	// SSRC used by outgoing packets
	LocalSSRC uint32
}

// ServerStreamStats are stream statistics.
type ServerStreamStats struct {
	BytesSent       uint64
	RTPPacketsSent  uint64
	RTCPPacketsSent uint64
	Readers         int

	// indexed by track ID
	Medias map[int]ServerStreamStatsMedia
}
