package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristan-zander/runback/cqrs"
)

func TestLobbyEventCodec_Decode(t *testing.T) {
	codec := LobbyEventCodec{}

	for _, event := range []LobbyEvent{
		LobbyOpenedEvent{OwnerID: u1, ChannelID: c1, OpenedAt: fixedNow},
		PlayerAddedToLobbyEvent{PlayerID: u2},
		LobbyClosedEvent{At: fixedNow},
	} {
		payload, err := codec.Encode(event)
		require.NoError(t, err)

		decoded, err := codec.Decode(event.EventType(), event.EventVersion(), payload)
		require.NoError(t, err)
		assert.Equal(t, event, decoded)
	}
}

func TestLobbyEventCodec_SnowflakesAreStrings(t *testing.T) {
	payload, err := LobbyEventCodec{}.Encode(PlayerAddedToLobbyEvent{PlayerID: u2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"player_id":"222222222222222222"}`, string(payload))
}

func TestLobbyEventCodec_UnknownType(t *testing.T) {
	_, err := LobbyEventCodec{}.Decode("LobbyRenamed", EventSchemaVersion, []byte(`{}`))

	var unknown *cqrs.UnknownEventTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "LobbyRenamed", unknown.EventType)
}

func TestLobbyEventCodec_UnsupportedVersion(t *testing.T) {
	_, err := LobbyEventCodec{}.Decode(LobbyClosedType, "2.0.0", []byte(`{}`))

	var unsupported *cqrs.UnsupportedVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "2.0.0", unsupported.Version)
}

func TestLobbyEventCodec_BadPayload(t *testing.T) {
	_, err := LobbyEventCodec{}.Decode(PlayerAddedToLobbyType, EventSchemaVersion, []byte(`{"player_id":12}`))
	assert.Error(t, err)
}

func TestParseSnowflake(t *testing.T) {
	id, err := ParseSnowflake("222222222222222222")
	require.NoError(t, err)
	assert.Equal(t, u2, id)

	_, err = ParseSnowflake("0")
	assert.Error(t, err)
	_, err = ParseSnowflake("abc")
	assert.Error(t, err)
}
