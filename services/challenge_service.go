package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
)

const challengeValueBytes = 32

type ChallengeService struct {
	challengeRepo repository.Repository
}

// challengeExpiredView pages through the expiry view used by the cron sweep
type challengeExpiredView struct {
	TotalRows int64                 `json:"total_rows"`
	Offset    int64                 `json:"offset"`
	Rows      []challengeExpiredRow `json:"rows"`
}

type challengeExpiredRow struct {
	ID      string `json:"id"`
	Expires int64  `json:"key"`   // key is the expiry timestamp
	Rev     string `json:"value"` // value is _rev which is needed for deletion
}

func NewChallengeService(dbSelector repository.DBSelector) *ChallengeService {
	db, err := dbSelector.ChooseDB(repository.Challenge)
	if err != nil {
		panic(err)
	}

	return &ChallengeService{
		challengeRepo: db,
	}
}

// CreateChallenge issues a fresh challenge bound to the given key
// fingerprint. The challenge value doubles as the document id so consumption
// can race on the document revision.
func (cs *ChallengeService) CreateChallenge(fingerprint string) (*types.Challenge, error) {
	random := make([]byte, challengeValueBytes)
	if _, err := rand.Read(random); err != nil {
		// never degrade to a predictable challenge
		panic(err)
	}
	now := time.Now().UTC().UnixMilli()
	value := hex.EncodeToString(random) + "." + strconv.FormatInt(now, 10)

	ttl := time.Duration(global.Conf.Auth.ChallengeTTLMinutes) * time.Minute
	challenge := &types.Challenge{
		Value:       value,
		Fingerprint: fingerprint,
		Created:     now,
		Expires:     now + ttl.Milliseconds(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := cs.challengeRepo.Save(ctx, value, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// CreateDecoyChallenge issues a challenge for an email that maps to no
// account. It is bound to the zero fingerprint so no signature can ever
// satisfy it, while its shape and lifetime match a real challenge.
func (cs *ChallengeService) CreateDecoyChallenge() (*types.Challenge, error) {
	return cs.CreateChallenge(types.ZeroFingerprint)
}

// GetChallenge returns a challenge by its value
func (cs *ChallengeService) GetChallenge(value string) (*types.Challenge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	response, err := cs.challengeRepo.GetByID(ctx, value)
	if err != nil {
		return nil, err
	}
	var existing types.Challenge
	if mErr := repository.MapToObject(response, &existing); mErr != nil {
		return nil, mErr
	}
	return &existing, nil
}

// ConsumeChallenge marks a challenge as used. The save is conditioned on the
// revision read together with the challenge, so of two concurrent attempts
// exactly one wins and the loser gets ErrChallengeConsumed.
func (cs *ChallengeService) ConsumeChallenge(challenge *types.Challenge) error {
	now := time.Now().UTC().UnixMilli()
	if challenge.Consumed {
		return types.ErrChallengeConsumed
	}
	if now > challenge.Expires {
		return types.ErrChallengeExpired
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	challenge.Consumed = true
	err := cs.challengeRepo.Save(ctx, challenge.Value, challenge)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			return types.ErrChallengeConsumed
		}
		return err
	}
	return nil
}

// RemoveExpiredChallenges loops and bulk deletes challenges past their expiry
// until the view returns no more rows
func (cs *ChallengeService) RemoveExpiredChallenges() {
	totalRows := int64(1) // start value to enter the loop
	for totalRows > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)

		cutoff := time.Now().UTC().UnixMilli()
		query := fmt.Sprintf("_design/challenge/_view/expired?descending=true&startkey=%d&limit=100", cutoff)
		response, err := cs.challengeRepo.GetByID(ctx, query)
		if err != nil {
			level.Error(global.Logger).Log("err", err, "msg", "Error getting expired challenges")
			cancel()
			return
		}

		var expired challengeExpiredView
		if mErr := repository.MapToObject(response, &expired); mErr != nil {
			level.Error(global.Logger).Log("err", mErr, "msg", "Error mapping expired challenges")
			cancel()
			return
		}
		if len(expired.Rows) > 0 {
			global.Logger.Log("msg", "removing expired challenges", "count", len(expired.Rows))
			bulkDelete := []types.BaseDocument{}
			for _, row := range expired.Rows {
				bulkDelete = append(bulkDelete, types.BaseDocument{
					UnderscoreID:  row.ID,
					UnderscoreRev: row.Rev,
					Deleted:       true,
				})
			}
			if bulkErr := bulkDeleteDocuments(cs.challengeRepo, ctx, bulkDelete); bulkErr != nil {
				level.Error(global.Logger).Log("err", bulkErr, "msg", "Error deleting expired challenges")
				cancel()
				return
			}
		}
		totalRows = int64(len(expired.Rows))
		cancel()
	}
}

// bulkDeleteDocuments posts tombstones to _bulk_docs in a single round trip
func bulkDeleteDocuments(repo repository.Repository, ctx context.Context, docs []types.BaseDocument) error {
	client := repo.GetClient().(*resty.Client)
	body := map[string]interface{}{
		"docs": docs,
	}
	resp, err := client.R().SetContext(ctx).SetBody(body).Post(fmt.Sprintf("%s/_bulk_docs", repo.GetDBName()))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return handleError(resp.Body())
	}
	return nil
}
