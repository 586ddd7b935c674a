package announcer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryagent/pkg/types"
)

type fakeXClient struct {
	lastText string
	id       string
	err      error
}

func (f *fakeXClient) PostTweet(ctx context.Context, text string) (string, error) {
	f.lastText = text
	return f.id, f.err
}

func TestAnnounceDeployedIncludesApyAndExplorerUrl(t *testing.T) {
	client := &fakeXClient{id: "tw1"}
	a := New(client, "https://explorer.example/tx/")
	chosen := "A"
	hash := common.HexToHash("0xabc")
	rec, err := a.Announce(context.Background(), types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen, NewNetApyBps: 550}, &types.ExecutionResult{TxHash: &hash})
	require.NoError(t, err)
	assert.Contains(t, client.lastText, "DEPLOYED")
	assert.Contains(t, client.lastText, "5.50%")
	assert.Contains(t, client.lastText, "https://explorer.example/tx/")
	require.NotNil(t, rec.RemoteID)
	assert.Equal(t, "tw1", *rec.RemoteID)
}

func TestAnnounceRotatedIncludesBothPools(t *testing.T) {
	client := &fakeXClient{}
	a := New(client, "https://explorer.example/tx/")
	from, to := "A", "B"
	_, err := a.Announce(context.Background(), types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to, OldNetApyBps: 500, NewNetApyBps: 700}, nil)
	require.NoError(t, err)
	assert.Contains(t, client.lastText, "ROTATED")
	assert.Contains(t, client.lastText, "A")
	assert.Contains(t, client.lastText, "B")
}

func TestAnnounceEmergencyExit(t *testing.T) {
	client := &fakeXClient{}
	a := New(client, "https://explorer.example/tx/")
	from := "A"
	_, err := a.Announce(context.Background(), types.Decision{Action: types.ActionExitToPark, FromPoolID: &from, OldNetApyBps: 500, Emergency: true}, nil)
	require.NoError(t, err)
	assert.Contains(t, client.lastText, "EMERGENCY EXIT")
}

func TestNoopXClientReturnsNoRemoteID(t *testing.T) {
	a := New(NoopXClient{}, "")
	chosen := "A"
	rec, err := a.Announce(context.Background(), types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}, nil)
	require.NoError(t, err)
	assert.Nil(t, rec.RemoteID)
}
