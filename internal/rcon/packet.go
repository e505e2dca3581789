// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package rcon

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Wire framing: 'B' 'E' | CRC32 (little-endian, over 0xFF + payload) | 0xFF |
// payload. The payload's first byte is the packet type.

// encodePacket frames a payload for the wire.
func encodePacket(payload []byte) []byte {
	body := make([]byte, 0, len(payload)+1)
	body = append(body, 0xFF)
	body = append(body, payload...)

	pkt := make([]byte, 0, len(body)+6)
	pkt = append(pkt, 'B', 'E')
	pkt = binary.LittleEndian.AppendUint32(pkt, crc32.ChecksumIEEE(body))
	pkt = append(pkt, body...)
	return pkt
}

// decodePacket validates framing and checksum and returns the payload
// (starting with the type byte).
func decodePacket(pkt []byte) ([]byte, error) {
	if len(pkt) < 8 {
		return nil, fmt.Errorf("packet too short: %d bytes", len(pkt))
	}
	if pkt[0] != 'B' || pkt[1] != 'E' {
		return nil, fmt.Errorf("bad packet magic")
	}
	if pkt[6] != 0xFF {
		return nil, fmt.Errorf("bad packet header byte")
	}

	want := binary.LittleEndian.Uint32(pkt[2:6])
	if got := crc32.ChecksumIEEE(pkt[6:]); got != want {
		return nil, fmt.Errorf("packet checksum mismatch: got %08x want %08x", got, want)
	}

	return pkt[7:], nil
}
