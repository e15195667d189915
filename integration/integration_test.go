package integration

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func login(t *testing.T, client *http.Client, username, password string) *http.Response {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	resp, err := client.Post(frontURL+"/api/auth/login", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDashboardFlow(t *testing.T) {
	startPrimaFront(t, writeTestConfig(t, testConfig()))
	backend.Reset()
	client := newBrowser(t)

	t.Run("anonymous requests are rejected", func(t *testing.T) {
		resp, err := client.Get(frontURL + "/api/carriers")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, backend.Requests())
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := login(t, client, testUsername, "wrong")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "Invalid user credentials", body["message"])
	})

	t.Run("login", func(t *testing.T) {
		resp := login(t, client, testUsername, testPassword)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, true, body["success"])
	})

	t.Run("list carriers", func(t *testing.T) {
		resp, err := client.Get(frontURL + "/api/carriers?FilterName=North")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.EqualValues(t, 1, body["total"])

		reqs := backend.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/api/carrier", reqs[0].Path)
		assert.Equal(t, "kc-access-1", reqs[0].Token)

		q, err := url.ParseQuery(reqs[0].Query)
		require.NoError(t, err)
		assert.Equal(t, "PLL", q.Get("COMPID"))
		assert.Equal(t, "North", q.Get("FilterName"))
		assert.Equal(t, "300", q.Get("pageSize"))
	})

	t.Run("create agent stamps creator", func(t *testing.T) {
		backend.Reset()
		resp, err := client.Post(frontURL+"/api/general-settings/agents", "application/json",
			strings.NewReader(`{"AGNTID":"A9","AGNTDSC":"Harbour Agency"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		reqs := backend.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, http.MethodPost, reqs[0].Method)
		assert.Equal(t, "/api/agent", reqs[0].Path)
		assert.Equal(t, testUsername, reqs[0].Body["CRTUSR"])
	})

	t.Run("delete without id is rejected locally", func(t *testing.T) {
		backend.Reset()
		req, err := http.NewRequest(http.MethodDelete, frontURL+"/api/clients", nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, backend.Requests())
	})

	t.Run("refresh rotates the upstream token", func(t *testing.T) {
		backend.Reset()
		resp, err := client.Post(frontURL+"/api/auth/refresh", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = client.Get(frontURL + "/api/carriers")
		require.NoError(t, err)
		resp.Body.Close()

		reqs := backend.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "kc-access-2", reqs[0].Token)
	})

	t.Run("logout", func(t *testing.T) {
		resp, err := client.Post(frontURL+"/api/auth/logout", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = client.Get(frontURL + "/api/carriers")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestBrowserIsSentToLogin(t *testing.T) {
	startPrimaFront(t, writeTestConfig(t, testConfig()))
	client := newBrowser(t)

	resp, err := client.Get(frontURL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?callbackUrl=%2F", resp.Header.Get("Location"))

	resp, err = client.Get(frontURL + "/login?callbackUrl=%2F")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
