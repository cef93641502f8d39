package rtspserver

// SessionStatsMedia are session media statistics.
type SessionStatsMedia struct {
	// sent bytes
	BytesSent uint64
	// number of sent RTP packets
	RTPPacketsSent uint64
	// number of sent RTCP packets
	RTCPPacketsSent uint64
	// number of received RTCP packets
	RTCPPacketsReceived uint64
	// number of packets that were not written
	WriteErrors uint64
}

// SessionStats are session statistics.
type SessionStats struct {
	BytesSent           uint64
	RTPPacketsSent      uint64
	RTCPPacketsSent     uint64
	RTCPPacketsReceived uint64
	WriteErrors         uint64

	// indexed by track ID
	Medias map[int]SessionStatsMedia
}
