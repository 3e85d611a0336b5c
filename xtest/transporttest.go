// Package xtest provides a loopback datagram transport for exercising
// SPTPS datagram sessions end-to-end without a real network, using
// golang.org/x/net/ipv4's explicit packet-connection wrapper the same
// way the teacher's raw-socket client path does.
package xtest

import (
	"net"

	"golang.org/x/net/ipv4"
)

// LoopbackPair is two ends of an in-process UDP loopback, wrapped in
// ipv4.PacketConn the way the teacher wraps its raw sockets, so tests
// exercise the same connection type production code would.
type LoopbackPair struct {
	connA, connB *net.UDPConn
	PacketConnA  *ipv4.PacketConn
	PacketConnB  *ipv4.PacketConn
}

// NewLoopbackPair opens two unconnected UDP sockets on localhost, each
// aware of the other's address, for feeding SPTPS datagram sessions in
// tests.
func NewLoopbackPair() (*LoopbackPair, error) {
	connA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	connB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		connA.Close()
		return nil, err
	}

	return &LoopbackPair{
		connA:       connA,
		connB:       connB,
		PacketConnA: ipv4.NewPacketConn(connA),
		PacketConnB: ipv4.NewPacketConn(connB),
	}, nil
}

// SendA writes data from end A to end B.
func (p *LoopbackPair) SendA(data []byte) error {
	_, err := p.PacketConnA.WriteTo(data, nil, p.connB.LocalAddr())
	return err
}

// SendB writes data from end B to end A.
func (p *LoopbackPair) SendB(data []byte) error {
	_, err := p.PacketConnB.WriteTo(data, nil, p.connA.LocalAddr())
	return err
}

// RecvA reads one datagram arriving at end A.
func (p *LoopbackPair) RecvA(buf []byte) (int, error) {
	n, _, _, err := p.PacketConnA.ReadFrom(buf)
	return n, err
}

// RecvB reads one datagram arriving at end B.
func (p *LoopbackPair) RecvB(buf []byte) (int, error) {
	n, _, _, err := p.PacketConnB.ReadFrom(buf)
	return n, err
}

// Close releases both ends of the pair.
func (p *LoopbackPair) Close() error {
	errA := p.PacketConnA.Close()
	errB := p.PacketConnB.Close()
	if errA != nil {
		return errA
	}
	return errB
}
