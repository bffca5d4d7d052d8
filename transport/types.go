package transport

import (
	"net"
)

// PacketHandler is a function that processes incoming packets.
type PacketHandler func(packet *Packet, addr net.Addr) error

// Transport defines the interface for network transports used by the
// streaming host. This abstraction allows different implementations (plain
// UDP, Noise-encrypted UDP) to be used interchangeably and lets tests swap
// in capture transports.
type Transport interface {
	// Send sends a packet to the specified address. Sends are
	// fire-and-forget: a nil return means the datagram was handed to the
	// network, not that it arrived.
	Send(packet *Packet, addr net.Addr) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// RegisterHandler registers a handler for a specific packet type.
	RegisterHandler(packetType PacketType, handler PacketHandler)
}
