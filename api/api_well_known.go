package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keymail/go-keymail-server/global"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// WellKnownApi serves the server identity document: the ed25519 key clients
// use to verify session tokens, self-signed with the matching private key.
type WellKnownApi struct {
}

func NewWellKnownApi() *WellKnownApi {
	return &WellKnownApi{}
}

// ServerIdentity godoc
// @Summary Server identity document
// @Description Returns the server domain and token verification key as a signed JWS
// @Tags WellKnown
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /.well-known/keymail.json [get]
func (wa *WellKnownApi) ServerIdentity(c *gin.Context) {
	key, kErr := jwk.FromRaw(global.PublicKey)
	if kErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to encode server key")
		return
	}
	document := map[string]interface{}{
		"domain":      global.Conf.ServerDomain,
		"keyType":     "ed25519",
		"publicKey":   key,
		"keysCreated": global.ServerKeysCreated,
		// clients need these to derive their mail password locally
		"derivation": map[string]string{
			"salt":    global.Conf.Auth.MailSaltHex,
			"version": global.Conf.Auth.DerivationVersion,
		},
	}
	payload, mErr := json.Marshal(document)
	if mErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal identity document")
		return
	}
	signed, sErr := jws.Sign(payload, jws.WithKey(jwa.EdDSA, global.PrivateKey))
	if sErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to sign identity document")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document": document,
		"jws":      string(signed),
	})
}
