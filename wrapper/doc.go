// Package wrapper sets up QUIC endpoints and drives the handshake that turns
// them into one authenticated connection.
//
// High-level flow:
//   - Server: NewServerConfig from an identity, Listen on a UDP address, then
//     Accept. Handshakes that fail are dropped inside quic-go and Accept keeps
//     waiting.
//   - Client: NewClientConfig from a trust policy, BindEphemeral, then Connect.
//     The policy runs inside the TLS handshake; a refused chain aborts it and
//     Connect reports TrustRejected.
//
// Teardown:
//   - Conn.Close (or Release of the last reference) sends a single
//     CONNECTION_CLOSE with code 0.
//   - Endpoint.Close closes every live connection that way, then the listener,
//     the transport and the socket. WaitIdle blocks until no connection is left.
//
// Key type: udpSocket
//   - Owns the *net.UDPConn underneath quic.Transport, counts datagrams and
//     makes Close idempotent. quic-go does not close a socket it was handed.
//     Buffer sizing and SyscallConn pass through to the *net.UDPConn.
package wrapper
