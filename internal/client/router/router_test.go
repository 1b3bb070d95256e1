package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSession struct{ authed bool }

func (f *fakeSession) Authenticated() bool { return f.authed }

func TestResolve(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "home"},
		{"/home", "home"},
		{"/home/", "home"},
		{"/signin", "signin"},
		{"/register?next=chat", "register"},
		{"/chat", "chat"},
		{"/nope", "404"},
		{"/chat/extra", "404"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, Resolve(tt.path).Name)
		})
	}
}

func TestGuardEvaluatedPerNavigation(t *testing.T) {
	session := &fakeSession{}
	r := New(session)

	nav := r.Navigate("/chat")
	require.False(t, nav.Proceed())
	require.Equal(t, HomePath, nav.Redirect)
	require.Equal(t, "home", nav.Route.Name)

	require.True(t, r.Navigate("/signin").Proceed())
	require.True(t, r.Navigate("/missing").Proceed())

	session.authed = true
	nav = r.Navigate("/chat")
	require.True(t, nav.Proceed())
	require.Equal(t, "chat", nav.Route.Name)

	session.authed = false
	require.False(t, r.Navigate("/chat").Proceed())
}
