/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActionRegisterUnregister(t *testing.T) {
	a := &Action{}

	require.ErrorIs(t, a.RegisterActionEvent(nil), ErrNilChannel)

	ch := make(chan DIDCommAction)
	require.NoError(t, a.RegisterActionEvent(ch))
	require.NotNil(t, a.ActionEvent())

	// only one channel can be registered
	other := make(chan DIDCommAction)
	require.ErrorIs(t, a.RegisterActionEvent(other), ErrChannelRegistered)

	require.ErrorIs(t, a.UnregisterActionEvent(other), ErrInvalidChannel)
	require.NoError(t, a.UnregisterActionEvent(ch))
	require.Nil(t, a.ActionEvent())
}

func TestMessageRegisterUnregister(t *testing.T) {
	m := &Message{}

	require.ErrorIs(t, m.RegisterMsgEvent(nil), ErrNilChannel)

	first := make(chan StateMsg)
	second := make(chan StateMsg)
	require.NoError(t, m.RegisterMsgEvent(first))
	require.NoError(t, m.RegisterMsgEvent(second))
	require.Len(t, m.MsgEvents(), 2)

	require.NoError(t, m.UnregisterMsgEvent(first))
	require.Len(t, m.MsgEvents(), 1)

	// unregister of an unknown channel is a no-op
	require.NoError(t, m.UnregisterMsgEvent(first))
	require.Len(t, m.MsgEvents(), 1)
}

func TestMessageNotifyFansOut(t *testing.T) {
	m := &Message{}

	first := make(chan StateMsg, 1)
	second := make(chan StateMsg, 1)
	require.NoError(t, m.RegisterMsgEvent(first))
	require.NoError(t, m.RegisterMsgEvent(second))

	m.Notify(StateMsg{ProtocolName: "test", StateID: "done"})

	require.Equal(t, "done", (<-first).StateID)
	require.Equal(t, "done", (<-second).StateID)
}

func TestDIDCommContext(t *testing.T) {
	ctx := NewDIDCommContext("myDID", "theirDID", "conn-1", map[string]interface{}{"k": "v"})
	require.Equal(t, "myDID", ctx.MyDID())
	require.Equal(t, "theirDID", ctx.TheirDID())
	require.Equal(t, "conn-1", ctx.ConnectionID())
	require.Empty(t, ctx.SessionID())
	require.Equal(t, "v", ctx.All()["k"])

	withSession := WithSession(ctx, "session-1")
	require.Equal(t, "session-1", withSession.SessionID())
	require.Equal(t, "conn-1", withSession.ConnectionID())

	empty := EmptyDIDCommContext()
	require.Empty(t, empty.MyDID())
	require.NotNil(t, empty.All())
}
