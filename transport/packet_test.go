package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketSerializeParse(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{
			name:   "video frame packet",
			packet: Packet{PacketType: PacketVideoFrame, Data: []byte{1, 2, 3, 4}},
		},
		{
			name:   "time sync packet",
			packet: Packet{PacketType: PacketTimeSync, Data: []byte{0xff}},
		},
		{
			name:   "empty data",
			packet: Packet{PacketType: PacketVideoErrorReport, Data: []byte{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.packet.Serialize()
			require.NoError(t, err)
			require.Len(t, data, 1+len(tt.packet.Data))
			assert.Equal(t, byte(tt.packet.PacketType), data[0])

			parsed, err := ParsePacket(data)
			require.NoError(t, err)
			assert.Equal(t, tt.packet.PacketType, parsed.PacketType)
			assert.Equal(t, tt.packet.Data, parsed.Data)
		})
	}
}

func TestPacketSerializeNilData(t *testing.T) {
	packet := &Packet{PacketType: PacketVideoFrame}
	_, err := packet.Serialize()
	assert.Error(t, err)
}

func TestParsePacketEmpty(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.Error(t, err)

	_, err = ParsePacket([]byte{})
	assert.Error(t, err)
}

func TestParsePacketCopiesData(t *testing.T) {
	raw := []byte{byte(PacketTimeSync), 10, 20}
	parsed, err := ParsePacket(raw)
	require.NoError(t, err)

	raw[1] = 99
	assert.Equal(t, byte(10), parsed.Data[0])
}
