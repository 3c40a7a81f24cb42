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

package codec

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFrameRoundTrip(t *testing.T) {
	c := NewMQTT()
	var buf bytes.Buffer

	in := &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 1},
		TopicName:   "sensors/3/temp",
		Payload:     []byte("21.5"),
		PacketID:    42,
	}
	require.NoError(t, c.WritePacket(&buf, in))

	out, err := c.ReadPacket(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, packets.Publish, out.FixedHeader.Type)
	assert.Equal(t, byte(1), out.FixedHeader.Qos)
	assert.Equal(t, "sensors/3/temp", out.TopicName)
	assert.Equal(t, []byte("21.5"), out.Payload)
	assert.Equal(t, uint16(42), out.PacketID)
}

func TestReadPacketStreamsConsecutiveFrames(t *testing.T) {
	c := NewMQTT()
	var buf bytes.Buffer

	require.NoError(t, c.WritePacket(&buf, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Pingreq},
	}))
	require.NoError(t, c.WritePacket(&buf, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Disconnect},
	}))

	r := bufio.NewReader(&buf)
	pk, err := c.ReadPacket(r)
	require.NoError(t, err)
	assert.Equal(t, packets.Pingreq, pk.FixedHeader.Type)

	pk, err = c.ReadPacket(r)
	require.NoError(t, err)
	assert.Equal(t, packets.Disconnect, pk.FixedHeader.Type)
}

// countingWriter records the number of Write calls.
type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestWritePacketUsesSingleWrite(t *testing.T) {
	c := NewMQTT()
	w := &countingWriter{}

	require.NoError(t, c.WritePacket(w, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish},
		TopicName:   "a/b",
		Payload:     []byte("payload"),
	}))

	// One frame, one Write call, so concurrent writers never interleave
	// partial frames.
	assert.Equal(t, 1, w.writes)
}

func TestReadPacketRejectsOversizedFrame(t *testing.T) {
	c := NewMQTT()

	// PUBLISH fixed header declaring the maximum 256MB remaining length.
	frame := []byte{0x30, 0xFF, 0xFF, 0xFF, 0x7F}
	_, err := c.ReadPacket(bufio.NewReader(bytes.NewReader(frame)))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestReadPacketHonorsConfiguredLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMQTT().WritePacket(&buf, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish},
		TopicName:   "a/b",
		Payload:     []byte("a payload over the tiny limit"),
	}))

	c := MQTT{MaxPacketSize: 8}
	_, err := c.ReadPacket(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestWritePacketRejectsUnsupportedType(t *testing.T) {
	c := NewMQTT()
	var buf bytes.Buffer

	err := c.WritePacket(&buf, &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Auth},
	})
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}
