package services

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
	"github.com/stretchr/testify/assert"
)

var testURL = "http://localhost:5689"

func initChallengeService(t *testing.T) *ChallengeService {
	t.Helper()
	global.Conf.Auth.ChallengeTTLMinutes = 10

	httpmock.RegisterResponder("HEAD", testURL+"/challenges",
		httpmock.NewStringResponder(200, ""))

	db, err := repository.NewCouchDBRepository(testURL, repository.Challenge, "test", "test", true)
	assert.NoError(t, err)

	selector := repository.NewCouchDBSelector()
	selector.AddDB(db)
	return NewChallengeService(selector)
}

func TestCreateChallenge(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	cs := initChallengeService(t)

	httpmock.RegisterRegexpResponder("PUT", regexp.MustCompile(`/challenges/.+`),
		httpmock.NewJsonResponderOrPanic(201, types.OK{IsOK: true}))

	challenge, err := cs.CreateChallenge("abcdef1234567890abcdef1234567890abcdef12")
	assert.NoError(t, err)

	parts := strings.Split(challenge.Value, ".")
	assert.Len(t, parts, 2)
	assert.Len(t, parts[0], challengeValueBytes*2)
	assert.Equal(t, challenge.Created+10*time.Minute.Milliseconds(), challenge.Expires)
	assert.False(t, challenge.Consumed)
}

func TestCreateDecoyChallenge(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	cs := initChallengeService(t)

	httpmock.RegisterRegexpResponder("PUT", regexp.MustCompile(`/challenges/.+`),
		httpmock.NewJsonResponderOrPanic(201, types.OK{IsOK: true}))

	challenge, err := cs.CreateDecoyChallenge()
	assert.NoError(t, err)
	assert.Equal(t, types.ZeroFingerprint, challenge.Fingerprint)

	issued, err := cs.CreateChallenge("abcdef1234567890abcdef1234567890abcdef12")
	assert.NoError(t, err)
	// shape and lifetime of decoys match real challenges
	assert.Len(t, challenge.Value, len(issued.Value))
	assert.Equal(t, issued.Expires-issued.Created, challenge.Expires-challenge.Created)
}

func TestConsumeChallenge(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	cs := initChallengeService(t)

	httpmock.RegisterRegexpResponder("PUT", regexp.MustCompile(`/challenges/.+`),
		httpmock.NewJsonResponderOrPanic(201, types.OK{IsOK: true}))

	now := time.Now().UTC().UnixMilli()
	challenge := &types.Challenge{
		Value:       "abc.123",
		Fingerprint: "abcdef1234567890abcdef1234567890abcdef12",
		Created:     now,
		Expires:     now + 10*time.Minute.Milliseconds(),
	}
	err := cs.ConsumeChallenge(challenge)
	assert.NoError(t, err)
	assert.True(t, challenge.Consumed)

	// second consumption fails without touching the database
	err = cs.ConsumeChallenge(challenge)
	assert.ErrorIs(t, err, types.ErrChallengeConsumed)
}

func TestConsumeChallengeExpired(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	cs := initChallengeService(t)

	now := time.Now().UTC().UnixMilli()
	challenge := &types.Challenge{
		Value:   "abc.123",
		Created: now - 20*time.Minute.Milliseconds(),
		Expires: now - 10*time.Minute.Milliseconds(),
	}
	err := cs.ConsumeChallenge(challenge)
	assert.ErrorIs(t, err, types.ErrChallengeExpired)
}

func TestConsumeChallengeRevConflict(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	cs := initChallengeService(t)

	// stale revision means someone else consumed the challenge first
	httpmock.RegisterRegexpResponder("PUT", regexp.MustCompile(`/challenges/.+`),
		httpmock.NewStringResponder(409, `{"error":"conflict","reason":"Document update conflict."}`))

	now := time.Now().UTC().UnixMilli()
	challenge := &types.Challenge{
		Value:   "abc.123",
		Created: now,
		Expires: now + 10*time.Minute.Milliseconds(),
	}
	err := cs.ConsumeChallenge(challenge)
	assert.ErrorIs(t, err, types.ErrChallengeConsumed)
}
