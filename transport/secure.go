package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionNotReady indicates no completed encrypted session exists
	// for the peer address.
	ErrSessionNotReady = errors.New("secure session not established")
	// ErrHandshakeState indicates a handshake message arrived out of order.
	ErrHandshakeState = errors.New("unexpected handshake message")
)

// secureSession tracks the handshake and cipher state for one peer.
//
// Cipher states are nonce-ordered: a lost or reordered datagram inside an
// encrypted session breaks decryption for subsequent packets from that
// peer until a new handshake runs. The video path therefore normally runs
// over the plain transport; encrypted sessions cover control channels.
type secureSession struct {
	mu        sync.Mutex
	handshake *noise.HandshakeState
	send      *noise.CipherState
	recv      *noise.CipherState
	initiator bool
	step      int
	complete  bool
}

// SecureTransport wraps an existing transport with Noise-XX encryption.
// Handshake packets pass through in the clear; every other packet sent
// through this transport is encrypted inside a PacketSecureMessage frame.
type SecureTransport struct {
	underlying Transport
	keys       *KeyPair
	sessions   map[string]*secureSession
	sessionsMu sync.RWMutex
	handlers   map[PacketType]PacketHandler
	handlersMu sync.RWMutex
}

// cipherSuite is the Noise cipher suite shared by both endpoints.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// NewSecureTransport creates a transport wrapper that adds Noise-XX
// encryption on top of underlying.
//
// Parameters:
//   - underlying: the base transport (UDP) to wrap
//   - staticPrivKey: our long-term X25519 private key (32 bytes)
//
// Returns:
//   - *SecureTransport: the new wrapper
//   - error: invalid key or nil transport
func NewSecureTransport(underlying Transport, staticPrivKey [32]byte) (*SecureTransport, error) {
	if underlying == nil {
		return nil, errors.New("underlying transport cannot be nil")
	}
	keys, err := FromSecretKey(staticPrivKey)
	if err != nil {
		return nil, fmt.Errorf("invalid static key: %w", err)
	}

	st := &SecureTransport{
		underlying: underlying,
		keys:       keys,
		sessions:   make(map[string]*secureSession),
		handlers:   make(map[PacketType]PacketHandler),
	}

	underlying.RegisterHandler(PacketSecureHandshake, st.handleHandshake)
	underlying.RegisterHandler(PacketSecureMessage, st.handleSecureMessage)

	logrus.WithFields(logrus.Fields{
		"function":   "NewSecureTransport",
		"public_key": fmt.Sprintf("%x", keys.Public[:8]),
	}).Info("Secure transport created")

	return st, nil
}

// Connect initiates a Noise-XX handshake with the peer at addr. The
// handshake completes asynchronously as responses arrive; Send returns
// ErrSessionNotReady until then.
func (st *SecureTransport) Connect(addr net.Addr) error {
	session, err := st.newSession(true)
	if err != nil {
		return err
	}

	session.mu.Lock()
	msg, _, _, err := session.handshake.WriteMessage(nil, nil)
	session.step = 1
	session.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing handshake initiation: %w", err)
	}

	st.sessionsMu.Lock()
	st.sessions[addr.String()] = session
	st.sessionsMu.Unlock()

	return st.underlying.Send(&Packet{PacketType: PacketSecureHandshake, Data: msg}, addr)
}

// Send encrypts and sends a packet to the specified address. Handshake
// packets are passed through unencrypted.
func (st *SecureTransport) Send(packet *Packet, addr net.Addr) error {
	if packet.PacketType == PacketSecureHandshake {
		return st.underlying.Send(packet, addr)
	}

	session := st.session(addr)
	if session == nil {
		return ErrSessionNotReady
	}

	plain, err := packet.Serialize()
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.complete {
		return ErrSessionNotReady
	}
	ciphertext, err := session.send.Encrypt(nil, nil, plain)
	if err != nil {
		return fmt.Errorf("encrypting packet: %w", err)
	}

	return st.underlying.Send(&Packet{PacketType: PacketSecureMessage, Data: ciphertext}, addr)
}

// Close shuts down the secure transport and its underlying transport.
func (st *SecureTransport) Close() error {
	st.sessionsMu.Lock()
	st.sessions = make(map[string]*secureSession)
	st.sessionsMu.Unlock()
	return st.underlying.Close()
}

// LocalAddr returns the local address of the underlying transport.
func (st *SecureTransport) LocalAddr() net.Addr {
	return st.underlying.LocalAddr()
}

// RegisterHandler registers a handler invoked with decrypted packets of the
// given type.
func (st *SecureTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	st.handlersMu.Lock()
	defer st.handlersMu.Unlock()
	st.handlers[packetType] = handler
}

// HasSession reports whether a completed encrypted session exists for addr.
func (st *SecureTransport) HasSession(addr net.Addr) bool {
	session := st.session(addr)
	if session == nil {
		return false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.complete
}

// newSession builds a handshake state for one peer.
func (st *SecureTransport) newSession(initiator bool) (*secureSession, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeXX,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: st.keys.Private[:],
			Public:  st.keys.Public[:],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating handshake state: %w", err)
	}
	return &secureSession{handshake: hs, initiator: initiator}, nil
}

// session returns the session for addr, or nil.
func (st *SecureTransport) session(addr net.Addr) *secureSession {
	st.sessionsMu.RLock()
	defer st.sessionsMu.RUnlock()
	return st.sessions[addr.String()]
}

// handleHandshake advances the Noise-XX exchange by one message.
func (st *SecureTransport) handleHandshake(packet *Packet, addr net.Addr) error {
	session := st.session(addr)
	if session == nil {
		// First message from a new initiator; we respond.
		var err error
		session, err = st.newSession(false)
		if err != nil {
			return err
		}
		st.sessionsMu.Lock()
		st.sessions[addr.String()] = session
		st.sessionsMu.Unlock()
	}

	session.mu.Lock()
	reply, done, err := session.advance(packet.Data)
	session.mu.Unlock()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SecureTransport.handleHandshake",
			"peer":     addr.String(),
			"error":    err.Error(),
		}).Warn("Handshake message rejected")
		return err
	}

	if reply != nil {
		if err := st.underlying.Send(&Packet{PacketType: PacketSecureHandshake, Data: reply}, addr); err != nil {
			return err
		}
	}
	if done {
		logrus.WithFields(logrus.Fields{
			"function": "SecureTransport.handleHandshake",
			"peer":     addr.String(),
		}).Info("Secure session established")
	}
	return nil
}

// advance consumes one handshake message and produces the next one, if any.
// Caller holds the session lock.
func (s *secureSession) advance(msg []byte) (reply []byte, done bool, err error) {
	if s.complete {
		return nil, false, ErrHandshakeState
	}

	switch {
	case !s.initiator && s.step == 0:
		// <- e
		if _, _, _, err = s.handshake.ReadMessage(nil, msg); err != nil {
			return nil, false, err
		}
		// -> e, ee, s, es
		reply, _, _, err = s.handshake.WriteMessage(nil, nil)
		if err != nil {
			return nil, false, err
		}
		s.step = 2
		return reply, false, nil

	case s.initiator && s.step == 1:
		// <- e, ee, s, es
		if _, _, _, err = s.handshake.ReadMessage(nil, msg); err != nil {
			return nil, false, err
		}
		// -> s, se
		var cs0, cs1 *noise.CipherState
		reply, cs0, cs1, err = s.handshake.WriteMessage(nil, nil)
		if err != nil {
			return nil, false, err
		}
		s.send, s.recv = cs0, cs1
		s.complete = true
		return reply, true, nil

	case !s.initiator && s.step == 2:
		// <- s, se
		var cs0, cs1 *noise.CipherState
		if _, cs0, cs1, err = s.handshake.ReadMessage(nil, msg); err != nil {
			return nil, false, err
		}
		s.recv, s.send = cs0, cs1
		s.complete = true
		return nil, true, nil
	}
	return nil, false, ErrHandshakeState
}

// handleSecureMessage decrypts an encrypted packet and dispatches the inner
// packet to the registered handler for its type.
func (st *SecureTransport) handleSecureMessage(packet *Packet, addr net.Addr) error {
	session := st.session(addr)
	if session == nil {
		return ErrSessionNotReady
	}

	session.mu.Lock()
	if !session.complete {
		session.mu.Unlock()
		return ErrSessionNotReady
	}
	plain, err := session.recv.Decrypt(nil, nil, packet.Data)
	session.mu.Unlock()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SecureTransport.handleSecureMessage",
			"peer":     addr.String(),
		}).Warn("Failed to decrypt packet, dropping")
		return err
	}

	inner, err := ParsePacket(plain)
	if err != nil {
		return err
	}

	st.handlersMu.RLock()
	handler, exists := st.handlers[inner.PacketType]
	st.handlersMu.RUnlock()
	if !exists {
		return nil
	}
	return handler(inner, addr)
}
