package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailJSSend(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	e := NewEmailJS(srv.URL, "svc", "tpl", "pub")
	err := e.Send(context.Background(), "", "asha@example.com", map[string]string{"to_name": "Asha"})
	require.NoError(t, err)

	assert.Equal(t, "svc", got.ServiceID)
	assert.Equal(t, "tpl", got.TemplateID)
	assert.Equal(t, "pub", got.UserID)
	assert.Equal(t, "asha@example.com", got.TemplateParams["to_email"])
	assert.Equal(t, "Asha", got.TemplateParams["to_name"])
}

func TestEmailJSSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "The Public Key is invalid", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewEmailJS(srv.URL, "svc", "tpl", "bad").Send(context.Background(), "other", "a@example.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "Public Key is invalid")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Send(context.Background(), "tpl", "a@example.com", nil))
}
