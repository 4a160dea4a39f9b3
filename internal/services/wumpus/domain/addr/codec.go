package addr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Shot targets are base-21 digits: rooms 1..20 plus 0 for "any tunnel".
const (
	ShotBase       = 21
	MaxShotTargets = 5
)

var (
	// GamePrefix holds start/play/replay/help/map/score commands.
	GamePrefix = netip.MustParsePrefix("2a06:2904::/32")
	// MovePrefix holds move targets.
	MovePrefix = netip.MustParsePrefix("2a06:2905::/32")
	// ShootPrefix holds arrow sequences.
	ShootPrefix = netip.MustParsePrefix("2a06:2906::/32")
	// OutputPrefix holds output lines.
	OutputPrefix = netip.MustParsePrefix("2a06:2907::/32")

	// FallbackIPv4 is the single IPv4 target that answers with the fallback screen.
	FallbackIPv4 = netip.MustParseAddr("194.145.125.135")

	// Filter prefixes cover every address the game answers for.
	FilterPrefixIPv6 = netip.MustParsePrefix("2a06:2904::/30")
	FilterPrefixIPv4 = netip.MustParsePrefix("194.145.125.128/25")
)

// fallbackHops is the number of literal IPv4 lines on the fallback screen.
const fallbackHops = 12

// ErrInvalidTarget indicates a shot target outside 0..20.
var ErrInvalidTarget = errors.New("shot target must be between 0 and 20")

// ErrNoTargets indicates an empty shot sequence.
var ErrNoTargets = errors.New("at least one shot target is required")

// ErrTrailingZero indicates a multi-target sequence ending in 0, which has no
// distinct address: the trailing zero digit is not significant.
var ErrTrailingZero = errors.New("last shot target of a sequence must not be 0")

// ErrInvalidAction indicates a game action that has no address form.
var ErrInvalidAction = errors.New("game action has no address")

type split struct {
	hi, lo uint64
}

func splitAddr(a netip.Addr) split {
	b := a.As16()
	return split{hi: binary.BigEndian.Uint64(b[:8]), lo: binary.BigEndian.Uint64(b[8:])}
}

func joinAddr(s split) netip.Addr {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], s.hi)
	binary.BigEndian.PutUint64(b[8:], s.lo)
	return netip.AddrFrom16(b)
}

func withHost(prefix netip.Prefix, value uint64) (netip.Addr, error) {
	host, err := encodeHost(value)
	if err != nil {
		return netip.Addr{}, err
	}
	base := splitAddr(prefix.Addr())
	base.lo += host
	return joinAddr(base), nil
}

// EncodeGame returns the address for a game action.
func EncodeGame(action GameAction) (netip.Addr, error) {
	if action == IPv4Fallback {
		return FallbackIPv4, nil
	}
	if action < 0 {
		return netip.Addr{}, fmt.Errorf("%w: %d", ErrInvalidAction, action)
	}
	return withHost(GamePrefix, uint64(action))
}

// EncodeMove returns the address for a move to room.
func EncodeMove(room int) (netip.Addr, error) {
	if room < 0 {
		return netip.Addr{}, fmt.Errorf("%w: room %d", ErrValueOutOfRange, room)
	}
	return withHost(MovePrefix, uint64(room))
}

// EncodeShoot returns the address for an arrow sequence. The first target is
// the least significant base-21 digit.
func EncodeShoot(targets []int) (netip.Addr, error) {
	if len(targets) == 0 {
		return netip.Addr{}, ErrNoTargets
	}
	if len(targets) > MaxShotTargets {
		return netip.Addr{}, fmt.Errorf("%w: %d targets", ErrValueOutOfRange, len(targets))
	}
	if len(targets) > 1 && targets[len(targets)-1] == 0 {
		return netip.Addr{}, ErrTrailingZero
	}
	var value, weight uint64 = 0, 1
	for _, target := range targets {
		if target < 0 || target >= ShotBase {
			return netip.Addr{}, fmt.Errorf("%w: %d", ErrInvalidTarget, target)
		}
		value += uint64(target) * weight
		weight *= ShotBase
	}
	return withHost(ShootPrefix, value)
}

// EncodeOutput returns the address for an output line.
func EncodeOutput(line int) (netip.Addr, error) {
	if line < 0 {
		return netip.Addr{}, fmt.Errorf("%w: line %d", ErrValueOutOfRange, line)
	}
	return withHost(OutputPrefix, uint64(outputShift+line))
}

// DecodeOutput reverses EncodeOutput.
func DecodeOutput(a netip.Addr) (int, bool) {
	a = a.Unmap()
	if !a.Is6() || !OutputPrefix.Contains(a) {
		return 0, false
	}
	s := splitAddr(a)
	if s.hi != splitAddr(OutputPrefix.Addr()).hi {
		return 0, false
	}
	value, err := decodeHost(s.lo, maxLanes)
	if err != nil || value < outputShift {
		return 0, false
	}
	return int(value - outputShift), true
}

// OutputReverse returns the reverse-zone label of an output line: the host
// nibbles below the output prefix, least significant first, as PTR records
// in the reverse zone name them.
func OutputReverse(line int) (string, error) {
	a, err := EncodeOutput(line)
	if err != nil {
		return "", err
	}
	s := splitAddr(a)
	nibbles := (128 - OutputPrefix.Bits()) / 4
	labels := make([]string, 0, nibbles)
	const hexDigits = "0123456789abcdef"
	for i := 0; i < nibbles; i++ {
		labels = append(labels, string(hexDigits[s.lo&0xf]))
		s.lo = s.lo>>4 | s.hi<<60
		s.hi >>= 4
	}
	return strings.Join(labels, "."), nil
}

// FallbackScreen returns the literal IPv4 hops shown to IPv4-only clients,
// counting down towards the fallback target.
func FallbackScreen() []netip.Addr {
	base := FallbackIPv4.As4()
	hops := make([]netip.Addr, 0, fallbackHops)
	for i := fallbackHops; i >= 1; i-- {
		b := base
		b[3] += byte(i)
		hops = append(hops, netip.AddrFrom4(b))
	}
	return hops
}

// IsGameAddress reports whether a belongs to the address space the game
// answers for.
func IsGameAddress(a netip.Addr) bool {
	a = a.Unmap()
	if a.Is4() {
		return FilterPrefixIPv4.Contains(a)
	}
	return FilterPrefixIPv6.Contains(a)
}

// Decode parses a target address into a command. Decoding never fails:
// anything that is not a game, move or shoot address, or the fallback IPv4
// target, yields Unknown.
func Decode(target string) Command {
	a, err := netip.ParseAddr(strings.TrimSpace(target))
	if err != nil {
		return Unknown{Err: err}
	}
	if a == FallbackIPv4 {
		return Game{Action: IPv4Fallback}
	}
	if !a.Is6() || a.Is4In6() {
		return Unknown{Err: errors.New("not an ipv6 address")}
	}

	s := splitAddr(a.WithZone(""))
	network := split{hi: s.hi, lo: s.lo &^ hostMask}
	var prefix netip.Prefix
	switch network {
	case splitAddr(GamePrefix.Addr()):
		prefix = GamePrefix
	case splitAddr(MovePrefix.Addr()):
		prefix = MovePrefix
	case splitAddr(ShootPrefix.Addr()):
		prefix = ShootPrefix
	default:
		return Unknown{Err: errors.New("no command prefix")}
	}

	value, err := decodeHost(s.lo&hostMask, hostLanes)
	if err != nil {
		return Unknown{Err: err}
	}
	switch prefix {
	case GamePrefix:
		return Game{Action: GameAction(value)}
	case MovePrefix:
		return Move{Room: int(value)}
	default:
		return Shoot{Targets: shotsFromValue(value)}
	}
}

// shotsFromValue splits value into base-21 digits. Zero yields [0].
func shotsFromValue(value uint64) []int {
	var shots []int
	for {
		shots = append(shots, int(value%ShotBase))
		value /= ShotBase
		if value == 0 {
			return shots
		}
	}
}
