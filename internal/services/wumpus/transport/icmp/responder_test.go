package icmp

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/domain/engine"
)

type fakeHandler struct {
	hops  []engine.Hop
	calls []engine.Request
}

func (h *fakeHandler) Handle(_ context.Context, req engine.Request) engine.Response {
	h.calls = append(h.calls, req)
	return engine.Response{Hops: h.hops}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

var (
	client6 = netip.MustParseAddr("2001:db8::1")
	target6 = netip.MustParseAddr("2a06:2905::10:10:18")
	client4 = netip.MustParseAddr("198.51.100.7")
	target4 = netip.MustParseAddr("194.145.125.135")
)

func newTestResponder(t *testing.T, handler Handler) (*Responder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)}
	r, err := NewResponder(handler, WithClock(clock.Now), WithRunWindow(5*time.Second))
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	return r, clock
}

func echoRequest(t *testing.T, v4 bool, seq int) []byte {
	t.Helper()
	msg := icmp.Message{
		Type: ipv6.ICMPTypeEchoRequest,
		Body: &icmp.Echo{ID: 7, Seq: seq, Data: []byte("wumpus")},
	}
	if v4 {
		msg.Type = ipv4.ICMPTypeEcho
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("marshal echo: %v", err)
	}
	return b
}

func probe6(t *testing.T, hopLimit int) Probe {
	return Probe{
		Src:      client6,
		Dst:      target6,
		HopLimit: hopLimit,
		Protocol: ProtocolICMPv6,
		Payload:  echoRequest(t, false, hopLimit),
	}
}

func parseReply(t *testing.T, proto int, reply Reply) *icmp.Message {
	t.Helper()
	msg, err := icmp.ParseMessage(proto, reply.Message)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	return msg
}

func gameHops() []engine.Hop {
	return []engine.Hop{
		{Address: "2a06:2907::ff:ff:cb"},
		{},
		{Address: "2001:db8::9", Delay: 3 * time.Second},
		{Address: target6.String()},
	}
}

func TestReplyTimeExceededFromHop(t *testing.T) {
	handler := &fakeHandler{hops: gameHops()}
	r, _ := newTestResponder(t, handler)

	reply, ok := r.Reply(context.Background(), probe6(t, 1))
	if !ok {
		t.Fatal("expected a reply")
	}
	if reply.Src != netip.MustParseAddr("2a06:2907::ff:ff:cb") || reply.Dst != client6 {
		t.Fatalf("reply from %s to %s", reply.Src, reply.Dst)
	}
	msg := parseReply(t, ProtocolICMPv6, reply)
	if msg.Type != ipv6.ICMPTypeTimeExceeded {
		t.Fatalf("type = %v, want time exceeded", msg.Type)
	}
	body, ok := msg.Body.(*icmp.TimeExceeded)
	if !ok {
		t.Fatalf("body = %T", msg.Body)
	}
	quote := body.Data
	if len(quote) < ipv6.HeaderLen || quote[0]>>4 != 6 || quote[6] != ProtocolICMPv6 {
		t.Fatalf("unexpected quoted header % x", quote)
	}
	if !bytes.Equal(quote[8:24], client6.AsSlice()) || !bytes.Equal(quote[24:40], target6.AsSlice()) {
		t.Fatalf("quoted addresses % x", quote[8:40])
	}
	if !bytes.Equal(quote[ipv6.HeaderLen:], echoRequest(t, false, 1)) {
		t.Fatal("expected the echo request to be quoted")
	}
	if len(handler.calls) != 1 || handler.calls[0].Client != client6.String() || handler.calls[0].Protocol != "icmp" {
		t.Fatalf("handler calls = %+v", handler.calls)
	}
}

func TestReplySharesOneTurnPerRun(t *testing.T) {
	handler := &fakeHandler{hops: gameHops()}
	r, clock := newTestResponder(t, handler)

	for hop := 1; hop <= 5; hop++ {
		r.Reply(context.Background(), probe6(t, hop))
	}
	if len(handler.calls) != 1 {
		t.Fatalf("handler calls = %d, want 1 per run", len(handler.calls))
	}

	clock.now = clock.now.Add(5 * time.Second)
	r.Reply(context.Background(), probe6(t, 1))
	if len(handler.calls) != 2 {
		t.Fatalf("handler calls = %d, want a new turn after the window", len(handler.calls))
	}
}

func TestReplySilentHop(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{hops: gameHops()})
	if _, ok := r.Reply(context.Background(), probe6(t, 2)); ok {
		t.Fatal("expected silent hop to stay quiet")
	}
}

func TestReplyCarriesScoreDelay(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{hops: gameHops()})
	reply, ok := r.Reply(context.Background(), probe6(t, 3))
	if !ok {
		t.Fatal("expected a reply")
	}
	if reply.Delay != 3*time.Second || reply.Src != netip.MustParseAddr("2001:db8::9") {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestReplyEchoAtDestination(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{hops: gameHops()})

	for _, hopLimit := range []int{4, 30} {
		reply, ok := r.Reply(context.Background(), probe6(t, hopLimit))
		if !ok {
			t.Fatalf("hop limit %d: expected a reply", hopLimit)
		}
		if reply.Src != target6 {
			t.Fatalf("hop limit %d: reply from %s, want target", hopLimit, reply.Src)
		}
		msg := parseReply(t, ProtocolICMPv6, reply)
		echo, ok := msg.Body.(*icmp.Echo)
		if msg.Type != ipv6.ICMPTypeEchoReply || !ok {
			t.Fatalf("hop limit %d: got %v %T", hopLimit, msg.Type, msg.Body)
		}
		if echo.ID != 7 || echo.Seq != hopLimit || string(echo.Data) != "wumpus" {
			t.Fatalf("echo = %+v", echo)
		}
	}
}

func TestReplyIPv4Fallback(t *testing.T) {
	handler := &fakeHandler{hops: []engine.Hop{{Address: "194.145.125.147"}, {Address: target4.String()}}}
	r, _ := newTestResponder(t, handler)

	reply, ok := r.Reply(context.Background(), Probe{
		Src:      client4,
		Dst:      target4,
		HopLimit: 1,
		Protocol: ProtocolICMP,
		Payload:  echoRequest(t, true, 1),
	})
	if !ok {
		t.Fatal("expected a reply")
	}
	msg := parseReply(t, ProtocolICMP, reply)
	if msg.Type != ipv4.ICMPTypeTimeExceeded || reply.Src != netip.MustParseAddr("194.145.125.147") {
		t.Fatalf("reply %v from %s", msg.Type, reply.Src)
	}
	quote := msg.Body.(*icmp.TimeExceeded).Data
	h, err := ipv4.ParseHeader(quote)
	if err != nil {
		t.Fatalf("parse quoted header: %v", err)
	}
	if !h.Src.Equal(net.IP(client4.AsSlice())) || !h.Dst.Equal(net.IP(target4.AsSlice())) || h.Protocol != ProtocolICMP {
		t.Fatalf("quoted header = %+v", h)
	}
}

func TestReplyUDPDestinationUnreachable(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{hops: gameHops()})
	udp := []byte{0x82, 0x9a, 0x82, 0x9b, 0x00, 0x10, 0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}

	reply, ok := r.Reply(context.Background(), Probe{
		Src: client6, Dst: target6, HopLimit: 4, Protocol: ProtocolUDP, Payload: udp,
	})
	if !ok {
		t.Fatal("expected a reply")
	}
	msg := parseReply(t, ProtocolICMPv6, reply)
	if msg.Type != ipv6.ICMPTypeDestinationUnreachable || msg.Code != 4 {
		t.Fatalf("reply = %v code %d, want port unreachable", msg.Type, msg.Code)
	}
}

func TestReplyIgnoresOtherTraffic(t *testing.T) {
	handler := &fakeHandler{hops: gameHops()}
	r, _ := newTestResponder(t, handler)

	tests := map[string]Probe{
		"foreign destination": {Src: client6, Dst: netip.MustParseAddr("2001:db8::2"), HopLimit: 1, Protocol: ProtocolICMPv6, Payload: echoRequest(t, false, 1)},
		"echo reply":          {Src: client6, Dst: target6, HopLimit: 1, Protocol: ProtocolICMPv6, Payload: mustMarshal(t, ipv6.ICMPTypeEchoReply)},
		"zero hop limit":      {Src: client6, Dst: target6, HopLimit: 0, Protocol: ProtocolICMPv6, Payload: echoRequest(t, false, 1)},
		"mixed families":      {Src: client4, Dst: target6, HopLimit: 1, Protocol: ProtocolICMPv6, Payload: echoRequest(t, false, 1)},
		"unknown protocol":    {Src: client6, Dst: target6, HopLimit: 1, Protocol: 132},
		"garbage payload":     {Src: client6, Dst: target6, HopLimit: 1, Protocol: ProtocolICMPv6, Payload: []byte{1}},
	}
	for name, probe := range tests {
		if _, ok := r.Reply(context.Background(), probe); ok {
			t.Fatalf("%s: expected no reply", name)
		}
	}
	if len(handler.calls) != 0 {
		t.Fatalf("handler calls = %+v, want none", handler.calls)
	}
}

func TestReplyTCPDestinationStaysQuiet(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{hops: gameHops()})
	if _, ok := r.Reply(context.Background(), Probe{Src: client6, Dst: target6, HopLimit: 4, Protocol: ProtocolTCP}); ok {
		t.Fatal("expected no reply for tcp at the destination")
	}
}

func TestNewResponderRequiresHandler(t *testing.T) {
	if _, err := NewResponder(nil); err == nil {
		t.Fatal("expected nil handler to be rejected")
	}
}

func TestNewServerValidates(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{})
	if _, err := NewServer(nil, "0.0.0.0", ""); err == nil {
		t.Fatal("expected nil responder to be rejected")
	}
	if _, err := NewServer(r, "", ""); err == nil {
		t.Fatal("expected missing addresses to be rejected")
	}
}

func mustMarshal(t *testing.T, typ icmp.Type) []byte {
	t.Helper()
	b, err := (&icmp.Message{Type: typ, Body: &icmp.Echo{ID: 1, Seq: 1}}).Marshal(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestServerListensForTracerouteProtocols(t *testing.T) {
	r, _ := newTestResponder(t, &fakeHandler{})
	s, err := NewServer(r, "0.0.0.0", "::")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	want := []rawSocket{
		{network: "ip4:icmp", address: "0.0.0.0", protocol: ProtocolICMP},
		{network: "ip4:udp", address: "0.0.0.0", protocol: ProtocolUDP},
		{network: "ip4:tcp", address: "0.0.0.0", protocol: ProtocolTCP},
		{network: "ip6:ipv6-icmp", address: "::", protocol: ProtocolICMPv6},
		{network: "ip6:udp", address: "::", protocol: ProtocolUDP},
		{network: "ip6:tcp", address: "::", protocol: ProtocolTCP},
	}
	got := s.sockets()
	if len(got) != len(want) {
		t.Fatalf("sockets = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("socket %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	v6only, err := NewServer(r, "", "::")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if got := v6only.sockets(); len(got) != 3 || got[0].protocol != ProtocolICMPv6 {
		t.Fatalf("ipv6 only sockets = %+v", got)
	}
}

func TestUDPReadIsTaggedUDP(t *testing.T) {
	handler := &fakeHandler{hops: gameHops()}
	r, _ := newTestResponder(t, handler)
	udp := []byte{0x82, 0x9a, 0x82, 0x9b, 0x00, 0x10, 0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}

	cm := &ipv6.ControlMessage{Dst: target6.AsSlice(), HopLimit: 1}
	pkt, ok := packetFrom6(cm, &net.IPAddr{IP: client6.AsSlice()}, ProtocolUDP, udp)
	if !ok {
		t.Fatal("expected a packet")
	}
	udp[0] = 0
	if pkt.Payload[0] != 0x82 {
		t.Fatal("expected the payload to be copied")
	}

	reply, ok := r.Reply(context.Background(), pkt)
	if !ok {
		t.Fatal("expected a reply")
	}
	if msg := parseReply(t, ProtocolICMPv6, reply); msg.Type != ipv6.ICMPTypeTimeExceeded {
		t.Fatalf("type = %v, want time exceeded", msg.Type)
	}
	if len(handler.calls) != 1 || handler.calls[0].Protocol != "udp" {
		t.Fatalf("handler calls = %+v", handler.calls)
	}

	if _, ok := packetFrom6(nil, &net.IPAddr{IP: client6.AsSlice()}, ProtocolUDP, udp); ok {
		t.Fatal("expected a read without control message to be dropped")
	}
}

func TestTCPReadOverIPv4IsTaggedTCP(t *testing.T) {
	cm := &ipv4.ControlMessage{Dst: net.IP(target4.AsSlice()), TTL: 3}
	pkt, ok := packetFrom4(cm, &net.IPAddr{IP: net.IP(client4.AsSlice())}, ProtocolTCP, []byte{0, 80})
	if !ok {
		t.Fatal("expected a packet")
	}
	if pkt.Src != client4 || pkt.Dst != target4 || pkt.HopLimit != 3 || pkt.Protocol != ProtocolTCP {
		t.Fatalf("packet = %+v", pkt)
	}
}
