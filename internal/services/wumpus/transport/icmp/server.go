package icmp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/trace-the-wumpus/internal/platform/timeouts"
)

const (
	readBufferSize = 1500
	replyHopLimit  = 64
)

// rawSocket is one raw socket probes are read from.
type rawSocket struct {
	network  string
	address  string
	protocol int
}

// Server reads probes from raw sockets and sends the replies. Echo requests
// (ping, traceroute -I) arrive on the ICMP sockets. UDP probes (the default
// traceroute) and TCP probes (traceroute -T) arrive on raw UDP and TCP
// sockets, which see copies of the datagrams: the host must not answer them
// itself, so drop its port unreachable and reset messages sent from game
// addresses. Raw sockets need CAP_NET_RAW, and replies from game addresses
// need those addresses routed to this host.
type Server struct {
	responder *Responder
	addr4     string
	addr6     string
}

// NewServer creates a server listening on addr4 and addr6. An empty address
// disables that family.
func NewServer(responder *Responder, addr4, addr6 string) (*Server, error) {
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	if addr4 == "" && addr6 == "" {
		return nil, errors.New("at least one listen address is required")
	}
	return &Server{responder: responder, addr4: addr4, addr6: addr6}, nil
}

// sockets lists the raw sockets to open. The ICMP socket of a family comes
// first: every reply of that family is written to it.
func (s *Server) sockets() []rawSocket {
	var out []rawSocket
	if s.addr4 != "" {
		out = append(out,
			rawSocket{network: "ip4:icmp", address: s.addr4, protocol: ProtocolICMP},
			rawSocket{network: "ip4:udp", address: s.addr4, protocol: ProtocolUDP},
			rawSocket{network: "ip4:tcp", address: s.addr4, protocol: ProtocolTCP},
		)
	}
	if s.addr6 != "" {
		out = append(out,
			rawSocket{network: "ip6:ipv6-icmp", address: s.addr6, protocol: ProtocolICMPv6},
			rawSocket{network: "ip6:udp", address: s.addr6, protocol: ProtocolUDP},
			rawSocket{network: "ip6:tcp", address: s.addr6, protocol: ProtocolTCP},
		)
	}
	return out
}

type reader4 struct {
	pc       *ipv4.PacketConn
	protocol int
}

type reader6 struct {
	pc       *ipv6.PacketConn
	protocol int
}

// Serve answers probes until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	var (
		closers []io.Closer
		in4     []reader4
		in6     []reader6
		out4    *ipv4.PacketConn
		out6    *ipv6.PacketConn
	)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	for _, sock := range s.sockets() {
		switch sock.protocol {
		case ProtocolICMP:
			conn, err := icmp.ListenPacket(sock.network, sock.address)
			if err != nil {
				return fmt.Errorf("listen %s on %s: %w", sock.network, sock.address, err)
			}
			closers = append(closers, conn)
			out4 = conn.IPv4PacketConn()
			in4 = append(in4, reader4{pc: out4, protocol: sock.protocol})
		case ProtocolICMPv6:
			conn, err := icmp.ListenPacket(sock.network, sock.address)
			if err != nil {
				return fmt.Errorf("listen %s on %s: %w", sock.network, sock.address, err)
			}
			closers = append(closers, conn)
			out6 = conn.IPv6PacketConn()
			var filter ipv6.ICMPFilter
			filter.SetAll(true)
			filter.Accept(ipv6.ICMPTypeEchoRequest)
			if err := out6.SetICMPFilter(&filter); err != nil {
				return fmt.Errorf("set icmpv6 filter: %w", err)
			}
			in6 = append(in6, reader6{pc: out6, protocol: sock.protocol})
		default:
			conn, err := net.ListenPacket(sock.network, sock.address)
			if err != nil {
				return fmt.Errorf("listen %s on %s: %w", sock.network, sock.address, err)
			}
			closers = append(closers, conn)
			if strings.HasPrefix(sock.network, "ip4:") {
				in4 = append(in4, reader4{pc: ipv4.NewPacketConn(conn), protocol: sock.protocol})
			} else {
				in6 = append(in6, reader6{pc: ipv6.NewPacketConn(conn), protocol: sock.protocol})
			}
		}
	}
	log.Printf("icmp: listening ipv4=%q ipv6=%q sockets=%d", s.addr4, s.addr6, len(closers))

	g, ctx := errgroup.WithContext(ctx)
	for _, in := range in4 {
		g.Go(func() error { return s.serve4(ctx, in, out4) })
	}
	for _, in := range in6 {
		g.Go(func() error { return s.serve6(ctx, in, out6) })
	}
	return g.Wait()
}

func (s *Server) serve4(ctx context.Context, in reader4, out *ipv4.PacketConn) error {
	if err := in.pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagTTL, true); err != nil {
		return fmt.Errorf("enable ipv4 control messages: %w", err)
	}
	buf := make([]byte, readBufferSize)
	for {
		if err := in.pc.SetReadDeadline(time.Now().Add(timeouts.ICMPRead)); err != nil {
			return fmt.Errorf("set ipv4 read deadline: %w", err)
		}
		n, cm, peer, err := in.pc.ReadFrom(buf)
		if done, err := readDone(ctx, err); done {
			return err
		} else if err != nil {
			continue
		}
		probe, ok := packetFrom4(cm, peer, in.protocol, buf[:n])
		if !ok {
			continue
		}
		reply, ok := s.responder.Reply(ctx, probe)
		if !ok {
			continue
		}
		s.send(ctx, reply, func() error {
			_, err := out.WriteTo(reply.Message, &ipv4.ControlMessage{Src: reply.Src.AsSlice()}, &net.IPAddr{IP: reply.Dst.AsSlice()})
			return err
		})
	}
}

func (s *Server) serve6(ctx context.Context, in reader6, out *ipv6.PacketConn) error {
	if err := in.pc.SetControlMessage(ipv6.FlagDst|ipv6.FlagHopLimit, true); err != nil {
		return fmt.Errorf("enable ipv6 control messages: %w", err)
	}
	buf := make([]byte, readBufferSize)
	for {
		if err := in.pc.SetReadDeadline(time.Now().Add(timeouts.ICMPRead)); err != nil {
			return fmt.Errorf("set ipv6 read deadline: %w", err)
		}
		n, cm, peer, err := in.pc.ReadFrom(buf)
		if done, err := readDone(ctx, err); done {
			return err
		} else if err != nil {
			continue
		}
		probe, ok := packetFrom6(cm, peer, in.protocol, buf[:n])
		if !ok {
			continue
		}
		reply, ok := s.responder.Reply(ctx, probe)
		if !ok {
			continue
		}
		s.send(ctx, reply, func() error {
			cm := &ipv6.ControlMessage{Src: reply.Src.AsSlice(), HopLimit: replyHopLimit}
			_, err := out.WriteTo(reply.Message, cm, &net.IPAddr{IP: reply.Dst.AsSlice()})
			return err
		})
	}
}

// packetFrom4 converts an IPv4 read. The payload is copied.
func packetFrom4(cm *ipv4.ControlMessage, peer net.Addr, protocol int, payload []byte) (Probe, bool) {
	if cm == nil {
		return Probe{}, false
	}
	return Probe{
		Src:      addrOf(peer),
		Dst:      ipAddr(cm.Dst),
		HopLimit: cm.TTL,
		Protocol: protocol,
		Payload:  append([]byte(nil), payload...),
	}, true
}

// packetFrom6 converts an IPv6 read. The payload is copied.
func packetFrom6(cm *ipv6.ControlMessage, peer net.Addr, protocol int, payload []byte) (Probe, bool) {
	if cm == nil {
		return Probe{}, false
	}
	return Probe{
		Src:      addrOf(peer),
		Dst:      ipAddr(cm.Dst),
		HopLimit: cm.HopLimit,
		Protocol: protocol,
		Payload:  append([]byte(nil), payload...),
	}, true
}

// send writes reply now, or after its delay without blocking the read loop.
func (s *Server) send(ctx context.Context, reply Reply, write func() error) {
	deliver := func() {
		if err := write(); err != nil {
			log.Printf("icmp: reply to %s from %s: %v", reply.Dst, reply.Src, err)
		}
	}
	if reply.Delay <= 0 {
		deliver()
		return
	}
	go func() {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			deliver()
		}
	}()
}

// readDone reports whether the read loop must stop. Deadline timeouts only
// give the loop a chance to check ctx.
func readDone(ctx context.Context, err error) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	if err == nil {
		return false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, err
	}
	if errors.Is(err, net.ErrClosed) {
		return true, nil
	}
	log.Printf("icmp: read: %v", err)
	return false, err
}

func addrOf(peer net.Addr) netip.Addr {
	if ipa, ok := peer.(*net.IPAddr); ok {
		return ipAddr(ipa.IP)
	}
	return netip.Addr{}
}

func ipAddr(ip net.IP) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}
