// Opaque transport-address value (component C3). Dispatch is a tagged
// variant plus dynamic implementation: there is no class hierarchy,
// only a three-operation capability set: Equal, SameHost, Copy.
package rtp

import (
	"fmt"
	"net"
)

// Address is the polymorphic transport-address value used throughout
// the source table and transport layer. Two addresses compare equal
// only if both host and port/channel match; SameHost ignores the
// port.
type Address interface {
	// Equal reports whether addr identifies the same host and the
	// same port/channel.
	Equal(other Address) bool
	// SameHost reports whether addr identifies the same host,
	// ignoring port/channel.
	SameHost(other Address) bool
	// Copy returns a deep copy of the address.
	Copy() Address
	String() string
}

// IPv4Address is a concrete Address backed by an IPv4 endpoint.
type IPv4Address struct {
	IP   [4]byte
	Port uint16
}

// NewIPv4Address builds an IPv4Address from a *net.UDPAddr, truncating
// to the 4-byte form. Returns an error if addr is not IPv4.
func NewIPv4Address(addr *net.UDPAddr) (*IPv4Address, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, newErr(ErrConfiguration, "NewIPv4Address", fmt.Errorf("%s is not an IPv4 address", addr.IP))
	}
	a := &IPv4Address{Port: uint16(addr.Port)}
	copy(a.IP[:], ip4)
	return a, nil
}

func (a *IPv4Address) Equal(other Address) bool {
	o, ok := other.(*IPv4Address)
	return ok && o.IP == a.IP && o.Port == a.Port
}

func (a *IPv4Address) SameHost(other Address) bool {
	o, ok := other.(*IPv4Address)
	return ok && o.IP == a.IP
}

func (a *IPv4Address) Copy() Address {
	c := *a
	return &c
}

func (a *IPv4Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// UDPAddr converts back to a *net.UDPAddr for use with the stdlib
// net package.
func (a *IPv4Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]), Port: int(a.Port)}
}

// IPv6Address is a concrete Address backed by an IPv6 endpoint,
// optionally carrying a zone (scope) id for link-local addresses.
type IPv6Address struct {
	IP   [16]byte
	Port uint16
	Zone string
}

// NewIPv6Address builds an IPv6Address from a *net.UDPAddr.
func NewIPv6Address(addr *net.UDPAddr) (*IPv6Address, error) {
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, newErr(ErrConfiguration, "NewIPv6Address", fmt.Errorf("%s is not a valid IP address", addr.IP))
	}
	a := &IPv6Address{Port: uint16(addr.Port), Zone: addr.Zone}
	copy(a.IP[:], ip16)
	return a, nil
}

func (a *IPv6Address) Equal(other Address) bool {
	o, ok := other.(*IPv6Address)
	return ok && o.IP == a.IP && o.Port == a.Port && o.Zone == a.Zone
}

func (a *IPv6Address) SameHost(other Address) bool {
	o, ok := other.(*IPv6Address)
	return ok && o.IP == a.IP && o.Zone == a.Zone
}

func (a *IPv6Address) Copy() Address {
	c := *a
	return &c
}

func (a *IPv6Address) String() string {
	ip := net.IP(a.IP[:])
	if a.Zone != "" {
		return fmt.Sprintf("[%s%%%s]:%d", ip, a.Zone, a.Port)
	}
	return fmt.Sprintf("[%s]:%d", ip, a.Port)
}

func (a *IPv6Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(a.IP[:]), Port: int(a.Port), Zone: a.Zone}
}

// RawAddress is an opaque byte-identified endpoint, used by
// externally-injected transports where the application supplies its
// own addressing scheme (e.g. a connection handle encoded as bytes).
type RawAddress struct {
	Data []byte
}

func (a *RawAddress) Equal(other Address) bool {
	o, ok := other.(*RawAddress)
	if !ok || len(o.Data) != len(a.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// SameHost on a RawAddress is the same as Equal: there is no
// port/channel concept to ignore for an opaque handle.
func (a *RawAddress) SameHost(other Address) bool { return a.Equal(other) }

func (a *RawAddress) Copy() Address {
	cp := make([]byte, len(a.Data))
	copy(cp, a.Data)
	return &RawAddress{Data: cp}
}

func (a *RawAddress) String() string {
	return fmt.Sprintf("raw:% x", a.Data)
}

// TCPAddress wraps a per-connection handle for the TCP-framed
// transport, where "address" really means "which connected socket".
type TCPAddress struct {
	ConnID string
	Remote net.Addr
}

func (a *TCPAddress) Equal(other Address) bool {
	o, ok := other.(*TCPAddress)
	return ok && o.ConnID == a.ConnID
}

// SameHost compares the remote IP only, ignoring the ephemeral source
// port of the TCP connection.
func (a *TCPAddress) SameHost(other Address) bool {
	o, ok := other.(*TCPAddress)
	if !ok {
		return false
	}
	at, aok := a.Remote.(*net.TCPAddr)
	ot, ook := o.Remote.(*net.TCPAddr)
	if !aok || !ook {
		return a.ConnID == o.ConnID
	}
	return at.IP.Equal(ot.IP)
}

func (a *TCPAddress) Copy() Address {
	c := *a
	return &c
}

func (a *TCPAddress) String() string {
	return fmt.Sprintf("tcp:%s(%s)", a.ConnID, a.Remote)
}
