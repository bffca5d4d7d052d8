package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// UDPTransport implements UDP-based communication for the streaming
// protocol. It satisfies the Transport interface.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[PacketType]PacketHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewUDPTransport creates a new UDP transport listening on the given
// address and starts its receive loop.
func NewUDPTransport(listenAddr string) (Transport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[PacketType]PacketHandler),
		ctx:        ctx,
		cancel:     cancel,
	}

	go t.processPackets()

	return t, nil
}

// RegisterHandler registers a handler for a specific packet type.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[packetType] = handler
}

// Send sends a packet to the specified address.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	data, err := packet.Serialize()
	if err != nil {
		return err
	}

	_, err = t.conn.WriteTo(data, addr)
	return err
}

// Close shuts down the transport and its receive loop.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// processPackets reads datagrams until the transport is closed.
func (t *UDPTransport) processPackets() {
	buffer := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.readAndDispatch(buffer)
		}
	}
}

// readAndDispatch reads a single datagram and routes it to the registered
// handler for its packet type. Read timeouts and malformed packets are
// dropped silently.
func (t *UDPTransport) readAndDispatch(buffer []byte) {
	// Bounded read so the loop can observe ctx cancellation.
	_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return
	}

	packet, err := ParsePacket(buffer[:n])
	if err != nil {
		return
	}

	t.mu.RLock()
	handler, exists := t.handlers[packet.PacketType]
	t.mu.RUnlock()

	if exists {
		go handler(packet, addr)
	}
}
