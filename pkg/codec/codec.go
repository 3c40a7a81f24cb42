// Copyright 2024 The mqttkit-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codec defines the frame codec contract used by the handshake and
// dispatch layers, and provides the MQTT 3.1.1 implementation built on the
// mochi-mqtt packets library.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mochi-mqtt/server/v2/packets"
)

// DefaultMaxPacketSize bounds the remaining length an inbound frame may
// declare. The wire format allows up to 256MB; accepting that on the
// pre-auth handshake path would let one CONNECT reserve it sight unseen.
const DefaultMaxPacketSize = 1 << 20

// ErrPacketTooLarge is returned when an inbound frame declares a remaining
// length over the codec's limit.
var ErrPacketTooLarge = errors.New("codec: packet exceeds maximum size")

// Codec reads and writes protocol frames on a byte stream. Implementations
// must be safe to share across connections; per-connection state, if any,
// belongs in the session.
type Codec interface {
	// ReadPacket reads and decodes one frame.
	ReadPacket(r *bufio.Reader) (*packets.Packet, error)
	// WritePacket encodes and writes one frame.
	WritePacket(w io.Writer, pk *packets.Packet) error
}

// MQTT is the MQTT 3.1.1 Codec. The zero value is ready to use.
type MQTT struct {
	// MaxPacketSize overrides DefaultMaxPacketSize when positive.
	MaxPacketSize int
}

// NewMQTT returns the MQTT 3.1.1 codec.
func NewMQTT() MQTT {
	return MQTT{}
}

// ReadPacket reads a full MQTT control packet from r. Frames declaring a
// remaining length over the codec's limit are rejected before any payload
// is read.
func (m MQTT) ReadPacket(r *bufio.Reader) (*packets.Packet, error) {
	fh := new(packets.FixedHeader)
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if err := fh.Decode(b); err != nil {
		return nil, err
	}
	rem, _, err := packets.DecodeLength(r)
	if err != nil {
		return nil, err
	}
	limit := m.MaxPacketSize
	if limit <= 0 {
		limit = DefaultMaxPacketSize
	}
	if rem > limit {
		return nil, fmt.Errorf("%w: %d bytes declared, limit %d", ErrPacketTooLarge, rem, limit)
	}
	fh.Remaining = rem

	buf := make([]byte, fh.Remaining)
	if fh.Remaining > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}

	pk := &packets.Packet{FixedHeader: *fh}
	switch pk.FixedHeader.Type {
	case packets.Connect:
		err = pk.ConnectDecode(buf)
	case packets.Connack:
		err = pk.ConnackDecode(buf)
	case packets.Publish:
		err = pk.PublishDecode(buf)
	case packets.Puback:
		err = pk.PubackDecode(buf)
	case packets.Subscribe:
		err = pk.SubscribeDecode(buf)
	case packets.Suback:
		err = pk.SubackDecode(buf)
	case packets.Unsubscribe:
		err = pk.UnsubscribeDecode(buf)
	case packets.Unsuback:
		err = pk.UnsubackDecode(buf)
	case packets.Pingreq:
		err = pk.PingreqDecode(buf)
	case packets.Pingresp:
		err = pk.PingrespDecode(buf)
	case packets.Disconnect:
		err = pk.DisconnectDecode(buf)
	default:
		err = fmt.Errorf("unsupported packet type for reading: %v", pk.FixedHeader.Type)
	}
	if err != nil {
		return nil, err
	}

	return pk, nil
}

// WritePacket encodes pk and writes it to w in a single Write call, so
// concurrent writers (the dispatch loop and a session sink) never interleave
// partial frames.
func (MQTT) WritePacket(w io.Writer, pk *packets.Packet) error {
	var buf bytes.Buffer
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connect:
		err = pk.ConnectEncode(&buf)
	case packets.Connack:
		err = pk.ConnackEncode(&buf)
	case packets.Suback:
		err = pk.SubackEncode(&buf)
	case packets.Unsuback:
		err = pk.UnsubackEncode(&buf)
	case packets.Puback:
		err = pk.PubackEncode(&buf)
	case packets.Subscribe:
		err = pk.SubscribeEncode(&buf)
	case packets.Unsubscribe:
		err = pk.UnsubscribeEncode(&buf)
	case packets.Pingreq:
		err = pk.PingreqEncode(&buf)
	case packets.Pingresp:
		err = pk.PingrespEncode(&buf)
	case packets.Publish:
		err = pk.PublishEncode(&buf)
	case packets.Disconnect:
		err = pk.DisconnectEncode(&buf)
	default:
		return fmt.Errorf("unsupported packet type for writing: %v", pk.FixedHeader.Type)
	}

	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}
