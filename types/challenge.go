package types

// Challenge is a short-lived authentication nonce, keyed by its value.
// State machine: issued -> consumed, or issued -> expired. There is no
// transition out of either terminal state.
type Challenge struct {
	BaseDocument `json:",inline"`
	Value        string `json:"value"`
	Fingerprint  string `json:"fingerprint"` // owning identity; zero fingerprint for decoy challenges
	Created      int64  `json:"created"`     // issuance timestamp, unix millis
	Expires      int64  `json:"expires"`
	Consumed     bool   `json:"consumed"`
}

// ZeroFingerprint marks a decoy challenge issued for an unknown email so that
// challenge issuance is indistinguishable for existing and non-existing
// accounts. No stored public key ever hashes to it, so it can never verify.
const ZeroFingerprint = "0000000000000000000000000000000000000000"

// ChallengeResponse is handed to the client to sign
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
	Expires   int64  `json:"expires"`
}
