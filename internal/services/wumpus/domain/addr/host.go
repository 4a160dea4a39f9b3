package addr

import "errors"

const (
	laneBits    = 16
	laneMask    = 1<<laneBits - 1
	laneOffset  = 1 << 4
	digitBase   = 1<<8 - laneOffset
	hostLanes   = 3
	hostBits    = hostLanes * laneBits
	hostMask    = 1<<hostBits - 1
	maxLanes    = 4
	outputShift = digitBase*digitBase*digitBase - digitBase
)

// ErrValueOutOfRange indicates a value does not fit into the host lanes.
var ErrValueOutOfRange = errors.New("value does not fit into address host")

// ErrMalformedHost indicates a host lane outside the encoded digit range.
var ErrMalformedHost = errors.New("malformed address host")

// encodeHost packs value into at least hostLanes lanes, least-significant
// lane first. Unused lanes hold the offset, which decodes as digit zero.
func encodeHost(value uint64) (uint64, error) {
	var host uint64
	lane := 0
	for value > 0 {
		if lane == maxLanes {
			return 0, ErrValueOutOfRange
		}
		host |= (value%digitBase + laneOffset) << (lane * laneBits)
		value /= digitBase
		lane++
	}
	for ; lane < hostLanes; lane++ {
		host |= uint64(laneOffset) << (lane * laneBits)
	}
	return host, nil
}

// decodeHost reads up to lanes lanes from host and stops at the first zero lane.
func decodeHost(host uint64, lanes int) (uint64, error) {
	var value uint64
	weight := uint64(1)
	for lane := 0; lane < lanes; lane++ {
		v := (host >> (lane * laneBits)) & laneMask
		if v == 0 {
			break
		}
		if v < laneOffset || v >= laneOffset+digitBase {
			return 0, ErrMalformedHost
		}
		value += (v - laneOffset) * weight
		weight *= digitBase
	}
	return value, nil
}
