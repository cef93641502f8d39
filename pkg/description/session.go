package description

import (
	"fmt"
	"net"

	psdp "github.com/pion/sdp/v3"
)

// Session is the description of a RTSP stream.
type Session struct {
	// title of the stream (optional).
	Title string

	// whether the stream is delivered with multicast (optional).
	Multicast bool

	// available media streams.
	Medias []*Media
}

// FindFormat finds a format among all the medias of the stream.
// If the format is found, it is inserted into forma, and its media is returned.
func (d *Session) FindFormat(forma interface{}) *Media {
	for _, media := range d.Medias {
		if media.FindFormat(forma) {
			return media
		}
	}
	return nil
}

// an empty session name is written as a single space (RFC 4566, section 5.3).
const emptySessionName = " "

const (
	unicastAddress   = "0.0.0.0"
	multicastAddress = "224.1.0.0"
)

func connectionAddress(ci *psdp.ConnectionInformation) string {
	if ci == nil || ci.Address == nil {
		return ""
	}
	return ci.Address.Address
}

func isMulticast(address string) bool {
	ip := net.ParseIP(address)
	return ip != nil && ip.IsMulticast()
}

// Unmarshal decodes the description from SDP.
func (d *Session) Unmarshal(byts []byte) error {
	var sd psdp.SessionDescription
	err := sd.Unmarshal(byts)
	if err != nil {
		return err
	}

	medias := make([]*Media, len(sd.MediaDescriptions))
	for i, md := range sd.MediaDescriptions {
		medias[i] = &Media{}
		err = medias[i].Unmarshal(md)
		if err != nil {
			return fmt.Errorf("media %d is invalid: %w", i+1, err)
		}
	}

	d.Title = string(sd.SessionName)
	if d.Title == emptySessionName {
		d.Title = ""
	}
	d.Multicast = isMulticast(connectionAddress(sd.ConnectionInformation))
	d.Medias = medias

	return nil
}

// Marshal encodes the description in SDP.
func (d Session) Marshal() ([]byte, error) {
	name := d.Title
	if name == "" {
		name = emptySessionName
	}

	address := unicastAddress
	if d.Multicast {
		address = multicastAddress
	}

	mds := make([]*psdp.MediaDescription, len(d.Medias))
	for i, m := range d.Medias {
		mds[i] = m.Marshal()
	}

	sd := &psdp.SessionDescription{
		SessionName: psdp.SessionName(name),
		Origin: psdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: address},
		},
		TimeDescriptions:  []psdp.TimeDescription{{}},
		MediaDescriptions: mds,
	}

	return sd.Marshal()
}
