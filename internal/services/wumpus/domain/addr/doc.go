// Package addr maps game commands and output lines to IPv6 addresses.
//
// Every value travels in the low 48 bits of an address below one of four /32
// prefixes. The host part is three 16-bit lanes; each lane carries one base-240
// digit shifted by 16, so lanes read as two hex characters (0x10..0xff) and a
// zero lane marks the end of the encoded value.
//
//	2a06:2904::/32  game commands (start, play, replay, help, map, score)
//	2a06:2905::/32  move targets
//	2a06:2906::/32  shoot sequences (little-endian base-21 digits)
//	2a06:2907::/32  output lines
//
// The literal IPv4 address 194.145.125.135 selects the IPv4 fallback screen.
package addr
