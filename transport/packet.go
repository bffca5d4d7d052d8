// Package transport implements the datagram transport layer for the VR
// streaming protocol.
//
// This package handles packet framing, UDP communication, and optional
// Noise-encrypted sessions. The stream core hands it fully serialized
// payloads; the transport is best-effort, unordered, and lossy by contract.
//
// Example:
//
//	tr, err := transport.NewUDPTransport(":9944")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	packet := &transport.Packet{
//	    PacketType: transport.PacketVideoFrame,
//	    Data:       []byte{...},
//	}
//
//	err = tr.Send(packet, remoteAddr)
package transport

import (
	"errors"
)

// PacketType identifies the type of a stream protocol packet.
type PacketType byte

const (
	// PacketVideoFrame carries one video packet: a fixed wire header
	// followed by a shard payload.
	PacketVideoFrame PacketType = iota + 1
	// PacketTimeSync carries a time-sync protocol message in either
	// direction.
	PacketTimeSync
	// PacketTrackingUpdate carries a client pose/tracking submission.
	PacketTrackingUpdate
	// PacketVideoErrorReport is the client's dedicated decode/FEC failure
	// signal, bypassing a full statistics round trip.
	PacketVideoErrorReport

	// Encrypted session packet types.
	PacketSecureHandshake PacketType = 250
	PacketSecureMessage   PacketType = 251
)

// MaxDatagramSize is the largest serialized packet the transport will read.
// Video packets are bounded by the stream payload capacity plus headers and
// the encryption overhead of secure sessions.
const MaxDatagramSize = 1536

// Packet represents a framed stream protocol packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
// Format: [packet type (1 byte)][data (variable length)].
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a received byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
