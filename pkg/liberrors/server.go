// Package liberrors contains the errors returned by the server.
package liberrors

import (
	"fmt"
	"net"

	"github.com/netlab/rtspserver/pkg/headers"
)

// ErrServerTerminated is returned when the server is closed.
type ErrServerTerminated struct{}

// Error implements the error interface.
func (e ErrServerTerminated) Error() string {
	return "terminated"
}

// ErrServerSessionNotFound is returned when the Session header refers to an unknown session.
type ErrServerSessionNotFound struct{}

// Error implements the error interface.
func (e ErrServerSessionNotFound) Error() string {
	return "session not found"
}

// ErrServerSessionTimedOut is returned when a UDP session stops sending keepalives.
type ErrServerSessionTimedOut struct{}

// Error implements the error interface.
func (e ErrServerSessionTimedOut) Error() string {
	return "session timed out"
}

// ErrServerCSeqMissing is returned when a request has no CSeq header.
type ErrServerCSeqMissing struct{}

// Error implements the error interface.
func (e ErrServerCSeqMissing) Error() string {
	return "CSeq is missing"
}

// ErrServerInvalidState is returned when a method is not allowed in the current session state.
type ErrServerInvalidState struct {
	AllowedList []fmt.Stringer
	State       fmt.Stringer
}

// Error implements the error interface.
func (e ErrServerInvalidState) Error() string {
	return fmt.Sprintf("must be in state %v, while is in state %v",
		e.AllowedList, e.State)
}

// ErrServerInvalidPath is returned when a request has no URL.
type ErrServerInvalidPath struct{}

// Error implements the error interface.
func (e ErrServerInvalidPath) Error() string {
	return "invalid path"
}

// ErrServerInvalidSetupPath is returned when the URL of a SETUP request has no control attribute.
type ErrServerInvalidSetupPath struct{}

// Error implements the error interface.
func (e ErrServerInvalidSetupPath) Error() string {
	return "invalid SETUP path. " +
		"This typically happens when a client tries to setup a media without the control attribute"
}

// ErrServerTransportHeaderInvalid is returned when the Transport header cannot be parsed.
type ErrServerTransportHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

// ErrServerTransportHeaderInvalidMode is returned when the transport mode is not "play".
type ErrServerTransportHeaderInvalidMode struct {
	Mode *headers.TransportMode
}

// Error implements the error interface.
func (e ErrServerTransportHeaderInvalidMode) Error() string {
	m := "null"
	if e.Mode != nil {
		m = e.Mode.String()
	}
	return fmt.Sprintf("transport mode '%s' is not supported", m)
}

// ErrServerTransportHeaderNoClientPorts is returned when a UDP transport has no client_port.
type ErrServerTransportHeaderNoClientPorts struct{}

// Error implements the error interface.
func (e ErrServerTransportHeaderNoClientPorts) Error() string {
	return "transport header does not contain client ports"
}

// ErrServerTransportHeaderInvalidInterleavedIDs is returned when interleaved IDs are not consecutive.
type ErrServerTransportHeaderInvalidInterleavedIDs struct{}

// Error implements the error interface.
func (e ErrServerTransportHeaderInvalidInterleavedIDs) Error() string {
	return "invalid interleaved IDs"
}

// ErrServerTransportHeaderInterleavedIDsInUse is returned when interleaved IDs are already used by another media.
type ErrServerTransportHeaderInterleavedIDsInUse struct{}

// Error implements the error interface.
func (e ErrServerTransportHeaderInterleavedIDsInUse) Error() string {
	return "interleaved IDs are already in use"
}

// ErrServerMediaNotFound is returned when the track ID of a SETUP request does not exist.
type ErrServerMediaNotFound struct{}

// Error implements the error interface.
func (e ErrServerMediaNotFound) Error() string {
	return "media not found"
}

// ErrServerMediaAlreadySetup is returned when a media is setupped twice.
type ErrServerMediaAlreadySetup struct{}

// Error implements the error interface.
func (e ErrServerMediaAlreadySetup) Error() string {
	return "media has already been setup"
}

// ErrServerMediasDifferentPaths is returned when medias of a session belong to different paths.
type ErrServerMediasDifferentPaths struct{}

// Error implements the error interface.
func (e ErrServerMediasDifferentPaths) Error() string {
	return "can't setup medias with different paths"
}

// ErrServerMediasDifferentTransports is returned when medias of a session use different transports.
type ErrServerMediasDifferentTransports struct{}

// Error implements the error interface.
func (e ErrServerMediasDifferentTransports) Error() string {
	return "can't setup medias with different transports"
}

// ErrServerLinkedToOtherSession is returned when a connection is used by two sessions.
type ErrServerLinkedToOtherSession struct{}

// Error implements the error interface.
func (e ErrServerLinkedToOtherSession) Error() string {
	return "connection is linked to another session"
}

// ErrServerSessionLinkedToOtherConn is returned when a TCP session is used by another connection.
type ErrServerSessionLinkedToOtherConn struct{}

// Error implements the error interface.
func (e ErrServerSessionLinkedToOtherConn) Error() string {
	return "session is linked to another connection"
}

// ErrServerSessionTornDown is returned when a session is closed with TEARDOWN.
type ErrServerSessionTornDown struct {
	Author net.Addr
}

// Error implements the error interface.
func (e ErrServerSessionTornDown) Error() string {
	return fmt.Sprintf("torn down by %v", e.Author)
}

// ErrServerSessionNotInUse is returned when a session has no connections left.
type ErrServerSessionNotInUse struct{}

// Error implements the error interface.
func (e ErrServerSessionNotInUse) Error() string {
	return "not in use"
}

// ErrServerPathHasChanged is returned when PLAY targets a path different from SETUP.
type ErrServerPathHasChanged struct {
	Prev string
	Cur  string
}

// Error implements the error interface.
func (e ErrServerPathHasChanged) Error() string {
	return fmt.Sprintf("path has changed, was '%s', now is '%s'", e.Prev, e.Cur)
}

// ErrServerUDPPortsAlreadyInUse is returned when two readers on the same IP share client ports.
type ErrServerUDPPortsAlreadyInUse struct {
	Port int
}

// Error implements the error interface.
func (e ErrServerUDPPortsAlreadyInUse) Error() string {
	return fmt.Sprintf("UDP ports %d and %d are already assigned to another reader with the same IP",
		e.Port, e.Port+1)
}

// ErrServerUnexpectedFrame is returned when an interleaved frame arrives outside of TCP play.
type ErrServerUnexpectedFrame struct{}

// Error implements the error interface.
func (e ErrServerUnexpectedFrame) Error() string {
	return "received unexpected interleaved frame"
}

// ErrServerUnexpectedResponse is returned when the client sends a response.
type ErrServerUnexpectedResponse struct{}

// Error implements the error interface.
func (e ErrServerUnexpectedResponse) Error() string {
	return "received unexpected response"
}

// ErrServerWriteQueueFull is returned when the write queue of a reader is full.
type ErrServerWriteQueueFull struct{}

// Error implements the error interface.
func (e ErrServerWriteQueueFull) Error() string {
	return "write queue is full"
}

// ErrServerStreamClosed is returned when writing to a closed stream.
type ErrServerStreamClosed struct{}

// Error implements the error interface.
func (e ErrServerStreamClosed) Error() string {
	return "stream is closed"
}

// ErrServerNoMulticastIPs is returned when the multicast range is exhausted.
type ErrServerNoMulticastIPs struct{}

// Error implements the error interface.
func (e ErrServerNoMulticastIPs) Error() string {
	return "no multicast IP is available"
}

// ErrServerCannotUseSessionCreatedByOtherIP is returned when a session is used from another IP.
type ErrServerCannotUseSessionCreatedByOtherIP struct{}

// Error implements the error interface.
func (e ErrServerCannotUseSessionCreatedByOtherIP) Error() string {
	return "cannot use a session created with a different IP"
}

// ErrServerSessionMissing is returned when a request that needs a session has no Session header.
type ErrServerSessionMissing struct{}

// Error implements the error interface.
func (e ErrServerSessionMissing) Error() string {
	return "Session header is missing"
}
