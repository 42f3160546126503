package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinedKeepsFalseInitiator(t *testing.T) {
	b, err := json.Marshal(Joined("abc", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"joined","roomId":"abc","initiator":false}`, string(b))
}

func TestRoomErrorShape(t *testing.T) {
	b, err := json.Marshal(RoomError("room not found"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room-error","error":"room not found"}`, string(b))
}

func TestDecodeSignal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    string
		wantErr error
	}{
		{name: "offer", raw: `{"type":"offer","sdp":"v=0"}`, kind: KindOffer},
		{name: "answer", raw: `{"type":"answer","sdp":"v=0"}`, kind: KindAnswer},
		{
			name: "browser candidate",
			raw:  `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`,
			kind: KindCandidate,
		},
		{name: "offer request", raw: `{"type":"offer-request"}`, kind: KindOfferRequest},
		{name: "offer grant", raw: `{"type":"offer-grant"}`, kind: KindOfferGrant},
		{name: "null", raw: `null`, wantErr: ErrEmptyPayload},
		{name: "offer without sdp", raw: `{"type":"offer"}`, wantErr: ErrEmptyPayload},
		{name: "candidate without body", raw: `{"type":"candidate"}`, wantErr: ErrEmptyPayload},
		{name: "unknown", raw: `{"type":"pranswer","sdp":"v=0"}`, wantErr: ErrUnknownPayload},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodeSignal(json.RawMessage(tc.raw))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.Type)
		})
	}
}

func TestDecodeSignalCandidateFields(t *testing.T) {
	raw := `{"type":"candidate","candidate":{"candidate":"c","sdpMid":"audio","sdpMLineIndex":1,"usernameFragment":"uf"}}`
	p, err := DecodeSignal(json.RawMessage(raw))
	require.NoError(t, err)
	require.NotNil(t, p.Candidate)
	assert.Equal(t, "c", p.Candidate.Candidate)
	assert.Equal(t, "audio", *p.Candidate.SDPMid)
	assert.Equal(t, uint16(1), *p.Candidate.SDPMLineIndex)
	assert.Equal(t, "uf", *p.Candidate.UsernameFragment)
}

func TestNewSignalCarriesRoom(t *testing.T) {
	msg, err := NewSignal("r1", SignalPayload{Type: KindAnswer, SDP: "v=0"})
	require.NoError(t, err)
	assert.Equal(t, TypeSignal, msg.Type)
	assert.Equal(t, "r1", msg.RoomID)

	p, err := DecodeSignal(msg.Payload)
	require.NoError(t, err)
	assert.True(t, p.IsDescription())
}
