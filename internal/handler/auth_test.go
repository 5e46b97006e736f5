package handler

import (
	"fmt"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhttpd/core/internal/model"
)

var nonceRe = regexp.MustCompile(`nonce="([^"]+)"`)

func newAuthRequest(t *testing.T, path string) *model.Request {
	t.Helper()
	u, err := url.ParseRequestURI(path)
	require.NoError(t, err)
	req := model.NewRequest()
	req.Method = "GET"
	req.Target = u
	return req
}

func TestAuthStepChallengeThenSuccess(t *testing.T) {
	cfg := &Config{
		AdminEnable: true,
		AdminRealm:  AuthRealm{Realm: "server admin", Username: "admin", Password: "secret"},
	}
	step := NewAuthStep(cfg)

	req := newAuthRequest(t, "/server-status")
	resp := model.NewResponse()
	outcome := step.Execute(nil, req, resp)

	require.Equal(t, model.OutcomeFatal, outcome)
	assert.Equal(t, 401, resp.Status)
	wwwAuth := resp.Header.Get("WWW-Authenticate")
	assert.Contains(t, wwwAuth, `Digest realm="server admin"`)

	m := nonceRe.FindStringSubmatch(wwwAuth)
	require.Len(t, m, 2)
	nonce := m[1]

	authz := digestHeader(t, "admin", "secret", "server admin", "GET", "/server-status", nonce)
	req2 := newAuthRequest(t, "/server-status")
	req2.Header.Set("Authorization", authz)
	resp2 := model.NewResponse()
	outcome2 := step.Execute(nil, req2, resp2)

	assert.Equal(t, model.OutcomeOK, outcome2)
	assert.Equal(t, "admin", req2.Username)
}

func TestAuthStepRejectsWrongPassword(t *testing.T) {
	cfg := &Config{
		AdminEnable: true,
		AdminRealm:  AuthRealm{Realm: "server admin", Username: "admin", Password: "secret"},
	}
	step := NewAuthStep(cfg)

	req := newAuthRequest(t, "/server-status")
	resp := model.NewResponse()
	step.Execute(nil, req, resp)
	nonce := nonceRe.FindStringSubmatch(resp.Header.Get("WWW-Authenticate"))[1]

	authz := digestHeader(t, "admin", "wrong", "server admin", "GET", "/server-status", nonce)
	req2 := newAuthRequest(t, "/server-status")
	req2.Header.Set("Authorization", authz)
	resp2 := model.NewResponse()
	outcome := step.Execute(nil, req2, resp2)

	assert.Equal(t, model.OutcomeFatal, outcome)
	assert.Equal(t, 401, resp2.Status)
}

// digestHeader builds a valid RFC2617 qop=auth Authorization header,
// mirroring a real client's HA1/HA2/response computation.
func digestHeader(t *testing.T, user, pass, realm, method, uri, nonce string) string {
	t.Helper()
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", user, realm, pass))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	nc := "00000001"
	cnonce := "clientnonce"
	qop := "auth"
	response := md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))

	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", qop=%s, nc=%s, cnonce="%s", response="%s"`,
		user, realm, nonce, uri, qop, nc, cnonce, response)
}

