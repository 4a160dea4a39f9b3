// Package icmp answers ping and traceroute probes with game hops.
//
// A traceroute run sends probes with increasing hop limits towards a game
// address. The first probe of a run plays one turn through the engine; every
// probe of the run is then answered from that turn: hop N of the response
// sends time exceeded from its address, and the probed address itself
// answers like a destination (echo reply, or port unreachable for UDP).
package icmp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/addr"
	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/engine"
)

// IANA protocol numbers of the probes we answer.
const (
	ProtocolICMP   = 1
	ProtocolTCP    = 6
	ProtocolUDP    = 17
	ProtocolICMPv6 = 58
)

const (
	// DefaultRunWindow is how long one turn answers the probes of a run.
	DefaultRunWindow = 10 * time.Second
	// DefaultCacheSize bounds the runs remembered at once.
	DefaultCacheSize = 4096

	// maxQuote keeps time exceeded messages well below the IPv6 minimum MTU.
	maxQuote = 512
)

// Handler plays one turn. *engine.Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, req engine.Request) engine.Response
}

// Probe is one packet addressed to the game.
type Probe struct {
	Src netip.Addr
	Dst netip.Addr
	// HopLimit is the TTL or hop limit left when the probe arrived. The
	// first probe of a run to reach us arrives with 1.
	HopLimit int
	// Protocol is the IANA number of Payload's protocol.
	Protocol int
	// Payload is the transport header and data of the probe.
	Payload []byte
}

// Reply is the ICMP message answering a probe.
type Reply struct {
	// Src is the address the reply must be sent from.
	Src netip.Addr
	// Dst is the probing client.
	Dst netip.Addr
	// Delay is how long to hold the reply back.
	Delay   time.Duration
	Message []byte
}

type run struct {
	hops []engine.Hop
	at   time.Time
}

// Responder turns probes into replies.
type Responder struct {
	handler Handler
	runs    *lru.Cache
	window  time.Duration
	now     func() time.Time
}

// Option configures a Responder.
type Option func(*Responder)

// WithRunWindow sets how long one turn answers repeated probes.
func WithRunWindow(window time.Duration) Option {
	return func(r *Responder) {
		if window > 0 {
			r.window = window
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResponder creates a responder playing turns on handler.
func NewResponder(handler Handler, opts ...Option) (*Responder, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	runs, err := lru.New(DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create run cache: %w", err)
	}
	r := &Responder{
		handler: handler,
		runs:    runs,
		window:  DefaultRunWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Reply answers probe. It reports false when the probe gets no answer: it
// is not for the game, it hits a silent hop, or no message fits.
func (r *Responder) Reply(ctx context.Context, probe Probe) (Reply, bool) {
	if !probe.Src.IsValid() || !probe.Dst.IsValid() || probe.HopLimit < 1 {
		return Reply{}, false
	}
	probe.Src, probe.Dst = probe.Src.Unmap(), probe.Dst.Unmap()
	if probe.Src.Is4() != probe.Dst.Is4() || !addr.IsGameAddress(probe.Dst) {
		return Reply{}, false
	}

	protocol, echo, ok := classify(probe)
	if !ok {
		return Reply{}, false
	}
	hops := r.hops(ctx, probe, protocol)

	if probe.HopLimit <= len(hops) {
		hop := hops[probe.HopLimit-1]
		from, err := netip.ParseAddr(hop.Address)
		if err != nil || from.Is4() != probe.Dst.Is4() {
			// Silent hops and player ids that are not addresses stay quiet.
			return Reply{}, false
		}
		if from != probe.Dst {
			msg, err := timeExceeded(probe, from)
			if err != nil {
				return Reply{}, false
			}
			return Reply{Src: from, Dst: probe.Src, Delay: hop.Delay, Message: msg}, true
		}
	}

	msg, err := destinationReply(probe, echo)
	if err != nil || msg == nil {
		return Reply{}, false
	}
	return Reply{Src: probe.Dst, Dst: probe.Src, Message: msg}, true
}

// hops returns the turn for the probe's run, playing it on first contact.
func (r *Responder) hops(ctx context.Context, probe Probe, protocol string) []engine.Hop {
	key := probe.Src.String() + " " + probe.Dst.String()
	now := r.now()
	if cached, ok := r.runs.Get(key); ok {
		if entry := cached.(run); now.Sub(entry.at) < r.window {
			return entry.hops
		}
	}
	resp := r.handler.Handle(ctx, engine.Request{
		Client:   probe.Src.String(),
		Target:   probe.Dst.String(),
		Protocol: protocol,
	})
	r.runs.Add(key, run{hops: resp.Hops, at: now})
	return resp.Hops
}

// classify names the probe protocol and parses echo requests.
func classify(probe Probe) (string, *icmp.Echo, bool) {
	switch probe.Protocol {
	case ProtocolICMP, ProtocolICMPv6:
		if (probe.Protocol == ProtocolICMP) != probe.Dst.Is4() {
			return "", nil, false
		}
		msg, err := icmp.ParseMessage(probe.Protocol, probe.Payload)
		if err != nil {
			return "", nil, false
		}
		if msg.Type != ipv4.ICMPTypeEcho && msg.Type != ipv6.ICMPTypeEchoRequest {
			return "", nil, false
		}
		echo, ok := msg.Body.(*icmp.Echo)
		return "icmp", echo, ok
	case ProtocolUDP:
		return "udp", nil, true
	case ProtocolTCP:
		return "tcp", nil, true
	}
	return "", nil, false
}

func timeExceeded(probe Probe, from netip.Addr) ([]byte, error) {
	quote, err := quoteDatagram(probe)
	if err != nil {
		return nil, err
	}
	msg := icmp.Message{Body: &icmp.TimeExceeded{Data: quote}}
	if probe.Dst.Is4() {
		msg.Type = ipv4.ICMPTypeTimeExceeded
	} else {
		msg.Type = ipv6.ICMPTypeTimeExceeded
	}
	return marshal(msg, from, probe.Src)
}

// destinationReply answers as the probed address. TCP probes get nothing.
func destinationReply(probe Probe, echo *icmp.Echo) ([]byte, error) {
	v4 := probe.Dst.Is4()
	var msg icmp.Message
	switch {
	case echo != nil:
		msg.Body = &icmp.Echo{ID: echo.ID, Seq: echo.Seq, Data: echo.Data}
		if v4 {
			msg.Type = ipv4.ICMPTypeEchoReply
		} else {
			msg.Type = ipv6.ICMPTypeEchoReply
		}
	case probe.Protocol == ProtocolUDP:
		quote, err := quoteDatagram(probe)
		if err != nil {
			return nil, err
		}
		msg.Body = &icmp.DstUnreach{Data: quote}
		if v4 {
			msg.Type, msg.Code = ipv4.ICMPTypeDestinationUnreachable, 3
		} else {
			msg.Type, msg.Code = ipv6.ICMPTypeDestinationUnreachable, 4
		}
	default:
		return nil, nil
	}
	return marshal(msg, probe.Dst, probe.Src)
}

func marshal(msg icmp.Message, src, dst netip.Addr) ([]byte, error) {
	if src.Is4() {
		return msg.Marshal(nil)
	}
	return msg.Marshal(icmp.IPv6PseudoHeader(net.IP(src.AsSlice()), net.IP(dst.AsSlice())))
}

// quoteDatagram rebuilds the probe's IP header, as it looked when its hop
// limit ran out, followed by its payload.
func quoteDatagram(probe Probe) ([]byte, error) {
	payload := probe.Payload
	if len(payload) > maxQuote {
		payload = payload[:maxQuote]
	}
	if probe.Dst.Is4() {
		h := ipv4.Header{
			Version:  ipv4.Version,
			Len:      ipv4.HeaderLen,
			TotalLen: ipv4.HeaderLen + len(probe.Payload),
			TTL:      1,
			Protocol: probe.Protocol,
			Src:      net.IP(probe.Src.AsSlice()),
			Dst:      net.IP(probe.Dst.AsSlice()),
		}
		header, err := h.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal ipv4 header: %w", err)
		}
		return append(header, payload...), nil
	}

	b := make([]byte, ipv6.HeaderLen, ipv6.HeaderLen+len(payload))
	b[0] = ipv6.Version << 4
	binary.BigEndian.PutUint16(b[4:6], uint16(len(probe.Payload)))
	b[6] = byte(probe.Protocol)
	b[7] = 1
	src, dst := probe.Src.As16(), probe.Dst.As16()
	copy(b[8:24], src[:])
	copy(b[24:40], dst[:])
	return append(b, payload...), nil
}
