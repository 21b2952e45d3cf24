package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/InstallationsInfo/own", r.URL.Path)
		require.Equal(t, "Bearer cached-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"items":[{
			"id":240042,
			"name":"WWK 222",
			"pid":"123456-7890",
			"macAddress":"aa:bb:cc:dd:ee:ff",
			"isOnline":true,
			"owner":{"firstName":"Jane","lastName":"Doe"},
			"profile":{"id":34,"name":"WWK"},
			"firmware":{"firmwareVersion":"4.2.1"}
		}]}`))
	}))
	defer srv.Close()

	m := NewManager(Config{
		Credentials:    Credentials{Username: "u", Password: "p", ClientID: "c"},
		ServiceBaseURL: srv.URL,
		CachedToken:    "cached-token",
		CachedExpiry:   time.Now().Add(2 * time.Hour),
	})

	items, err := m.Installations(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	inst := items[0]
	assert.EqualValues(t, 240042, inst.ID)
	assert.Equal(t, "240042", inst.InstallationID())
	assert.Equal(t, "WWK 222", inst.Name)
	assert.True(t, inst.IsOnline)
	require.NotNil(t, inst.Profile)
	assert.EqualValues(t, 34, inst.Profile.ID)
	require.NotNil(t, inst.Owner)
	assert.Equal(t, "Jane", inst.Owner.FirstName)
}

func TestInstallationsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m := NewManager(Config{
		Credentials:    Credentials{Username: "u", Password: "p", ClientID: "c"},
		ServiceBaseURL: srv.URL,
		CachedToken:    "cached-token",
		CachedExpiry:   time.Now().Add(2 * time.Hour),
	})
	_, err := m.Installations(context.Background())
	assert.Error(t, err)
}
