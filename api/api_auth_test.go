package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/pgp"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
	"github.com/tj/assert"
)

var testURL = "http://localhost:5689"

// registerDocStore backs one mock database with an in-memory document map so
// that saved documents come back on subsequent reads
func registerDocStore(dbName string) {
	store := map[string]json.RawMessage{}

	httpmock.RegisterResponder("HEAD", testURL+"/"+dbName,
		httpmock.NewStringResponder(200, ""))

	httpmock.RegisterRegexpResponder("PUT", regexp.MustCompile(`/`+dbName+`/.+`),
		func(req *http.Request) (*http.Response, error) {
			id := strings.TrimPrefix(req.URL.Path, "/"+dbName+"/")
			body, _ := io.ReadAll(req.Body)
			var doc map[string]interface{}
			if err := json.Unmarshal(body, &doc); err != nil {
				return httpmock.NewStringResponse(400, `{"error":"bad_request"}`), nil
			}
			doc["_id"] = id
			doc["_rev"] = "1-mock"
			raw, _ := json.Marshal(doc)
			store[id] = raw
			return httpmock.NewJsonResponse(201, types.OK{IsOK: true})
		})

	httpmock.RegisterRegexpResponder("GET", regexp.MustCompile(`/`+dbName+`/.+`),
		func(req *http.Request) (*http.Response, error) {
			id := strings.TrimPrefix(req.URL.Path, "/"+dbName+"/")
			raw, ok := store[id]
			if !ok {
				return httpmock.NewStringResponse(404, `{"error":"not_found","reason":"missing"}`), nil
			}
			return httpmock.NewStringResponse(200, string(raw)), nil
		})
}

func initAuthApi(t *testing.T) (*AuthApi, *services.ChallengeService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	global.Conf.ServerDomain = "test.keymail.io"
	global.Conf.Auth.ChallengeTTLMinutes = 10
	global.Conf.Auth.AccessTokenTTLMinutes = 15
	global.Conf.Auth.RefreshTokenTTLHours = 24
	global.Conf.Auth.EmailSaltHex = "aabbccdd00112233aabbccdd00112233"

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)
	global.PublicKey = pub
	global.PrivateKey = priv

	selector := repository.NewCouchDBSelector()
	for _, dbName := range []string{repository.Challenge, repository.User, repository.Mapping, repository.RefreshToken} {
		registerDocStore(dbName)
		db, rErr := repository.NewCouchDBRepository(testURL, dbName, "test", "test", true)
		assert.NoError(t, rErr)
		selector.AddDB(db)
	}

	userService := services.NewUserService(selector)
	challengeService := services.NewChallengeService(selector)
	tokenService := services.NewTokenService(selector)
	return NewAuthApi(userService, challengeService, tokenService, nil), challengeService
}

func registerAccount(t *testing.T, aa *AuthApi, email string) (*openpgp.Entity, *types.User) {
	t.Helper()
	pair, err := pgp.GenerateKeyPair("Test Account", email, pgp.GenerateOptions{})
	assert.NoError(t, err)
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(pair.PrivateKeyArmor))
	assert.NoError(t, err)
	assert.Len(t, entities, 1)

	user, err := aa.userService.CreateUser(&types.User{
		Email:          email,
		PublicKeyArmor: pair.PublicKeyArmor,
		AuthMethod:     types.AuthMethodLocalKey,
	})
	assert.NoError(t, err)
	return entities[0], user
}

func detachSign(t *testing.T, entity *openpgp.Entity, message string) string {
	t.Helper()
	var buf bytes.Buffer
	err := openpgp.ArmoredDetachSignText(&buf, entity, strings.NewReader(message), nil)
	assert.NoError(t, err)
	return buf.String()
}

func postJSON(t *testing.T, handler gin.HandlerFunc, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)
	return w
}

func TestChallengeShapeUniform(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	aa, _ := initAuthApi(t)
	registerAccount(t, aa, "known@keymail.io")

	known := postJSON(t, aa.Challenge, "/api/v1/auth/challenge", types.InputChallenge{Email: "known@keymail.io"})
	unknown := postJSON(t, aa.Challenge, "/api/v1/auth/challenge", types.InputChallenge{Email: "nobody@keymail.io"})

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)

	// the response must not reveal whether the email maps to an account
	var knownResp, unknownResp types.ChallengeResponse
	assert.NoError(t, json.Unmarshal(known.Body.Bytes(), &knownResp))
	assert.NoError(t, json.Unmarshal(unknown.Body.Bytes(), &unknownResp))
	assert.Len(t, unknownResp.Challenge, len(knownResp.Challenge))
	assert.True(t, unknownResp.Expires > 0)
}

func TestVerifyHappyPathAndReplay(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	aa, cs := initAuthApi(t)
	entity, user := registerAccount(t, aa, "alice@keymail.io")

	challenge, err := cs.CreateChallenge(user.Fingerprint)
	assert.NoError(t, err)

	input := types.InputVerify{
		Email:     "alice@keymail.io",
		Challenge: challenge.Value,
		Signature: detachSign(t, entity, challenge.Value),
	}
	w := postJSON(t, aa.Verify, "/api/v1/auth/verify", input)
	assert.Equal(t, http.StatusOK, w.Code)

	var output types.OutputToken
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &output))
	assert.NotEmpty(t, output.Token)
	assert.NotEmpty(t, output.RefreshToken)
	assert.Equal(t, types.UserStatusActive, output.User.Status)

	cookies := w.Result().Cookies()
	names := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		names = append(names, cookie.Name)
		assert.True(t, cookie.HttpOnly)
	}
	assert.Contains(t, names, "auth_token")
	assert.Contains(t, names, "refresh_token")

	// the consumed challenge must not log in a second time
	replay := postJSON(t, aa.Verify, "/api/v1/auth/verify", input)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Contains(t, replay.Body.String(), authFailedMessage)
}

func TestVerifyFailuresIndistinguishable(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	aa, cs := initAuthApi(t)
	_, user := registerAccount(t, aa, "alice@keymail.io")
	intruder, _ := registerAccount(t, aa, "mallory@keymail.io")

	// signature from the wrong key
	challenge, err := cs.CreateChallenge(user.Fingerprint)
	assert.NoError(t, err)
	wrongKey := postJSON(t, aa.Verify, "/api/v1/auth/verify", types.InputVerify{
		Email:     "alice@keymail.io",
		Challenge: challenge.Value,
		Signature: detachSign(t, intruder, challenge.Value),
	})

	// unknown account
	decoy, err := cs.CreateDecoyChallenge()
	assert.NoError(t, err)
	unknown := postJSON(t, aa.Verify, "/api/v1/auth/verify", types.InputVerify{
		Email:     "nobody@keymail.io",
		Challenge: decoy.Value,
		Signature: detachSign(t, intruder, decoy.Value),
	})

	assert.Equal(t, http.StatusUnauthorized, wrongKey.Code)
	assert.Equal(t, wrongKey.Body.String(), unknown.Body.String())
}

func TestVerifyConsumesChallengeOnMismatch(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	aa, cs := initAuthApi(t)
	entity, user := registerAccount(t, aa, "alice@keymail.io")

	challenge, err := cs.CreateChallenge(user.Fingerprint)
	assert.NoError(t, err)

	// a failed attempt burns the challenge
	w := postJSON(t, aa.Verify, "/api/v1/auth/verify", types.InputVerify{
		Email:     "alice@keymail.io",
		Challenge: challenge.Value,
		Signature: "not a signature",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// so a later attempt with a good signature fails too
	retry := postJSON(t, aa.Verify, "/api/v1/auth/verify", types.InputVerify{
		Email:     "alice@keymail.io",
		Challenge: challenge.Value,
		Signature: detachSign(t, entity, challenge.Value),
	})
	assert.Equal(t, http.StatusUnauthorized, retry.Code)
	assert.Contains(t, retry.Body.String(), authFailedMessage)
}

func TestRegister(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	aa, cs := initAuthApi(t)

	pair, err := pgp.GenerateKeyPair("New Account", "new@keymail.io", pgp.GenerateOptions{})
	assert.NoError(t, err)
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(pair.PrivateKeyArmor))
	assert.NoError(t, err)

	decoy, err := cs.CreateDecoyChallenge()
	assert.NoError(t, err)

	input := types.InputRegister{
		InputVerify: types.InputVerify{
			Email:     "new@keymail.io",
			Challenge: decoy.Value,
			Signature: detachSign(t, entities[0], decoy.Value),
		},
		PublicKey:  pair.PublicKeyArmor,
		AuthMethod: types.AuthMethodLocalKey,
	}
	w := postJSON(t, aa.Register, "/api/v1/auth/register", input)
	assert.Equal(t, http.StatusCreated, w.Code)

	var created types.OutputUser
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, pair.Fingerprint, created.Fingerprint)
	assert.Equal(t, types.UserStatusPending, created.Status)

	// the account is now addressable by email
	user, err := aa.userService.FindUserByEmail("new@keymail.io")
	assert.NoError(t, err)
	assert.Equal(t, pair.Fingerprint, user.Fingerprint)
}

func TestRegisterRejectsBoundChallenge(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	aa, cs := initAuthApi(t)
	entity, user := registerAccount(t, aa, "alice@keymail.io")

	// a login challenge bound to an existing account never registers anyone
	challenge, err := cs.CreateChallenge(user.Fingerprint)
	assert.NoError(t, err)

	pair, err := pgp.GenerateKeyPair("Other", "other@keymail.io", pgp.GenerateOptions{})
	assert.NoError(t, err)

	w := postJSON(t, aa.Register, "/api/v1/auth/register", types.InputRegister{
		InputVerify: types.InputVerify{
			Email:     "other@keymail.io",
			Challenge: challenge.Value,
			Signature: detachSign(t, entity, challenge.Value),
		},
		PublicKey:  pair.PublicKeyArmor,
		AuthMethod: types.AuthMethodLocalKey,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), authFailedMessage)
}
