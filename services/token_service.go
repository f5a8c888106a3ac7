package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
)

// TokenService keeps the server-side refresh token ledger. A refresh token is
// honored only while its ledger row exists, so deleting rows is revocation.
type TokenService struct {
	tokenRepo repository.Repository
}

type tokenFindResponse struct {
	Docs []types.RefreshTokenRecord `json:"docs"`
}

func NewTokenService(dbSelector repository.DBSelector) *TokenService {
	db, err := dbSelector.ChooseDB(repository.RefreshToken)
	if err != nil {
		panic(err)
	}
	return &TokenService{
		tokenRepo: db,
	}
}

// SaveRefreshToken records a freshly minted refresh token by its token id
func (ts *TokenService) SaveRefreshToken(record *types.RefreshTokenRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	return ts.tokenRepo.Save(ctx, record.TokenID, record)
}

// GetRefreshToken returns the ledger row for a token id, ErrNotFound when the
// token was revoked or never issued
func (ts *TokenService) GetRefreshToken(tokenID string) (*types.RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	response, err := ts.tokenRepo.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	var record types.RefreshTokenRecord
	if mErr := repository.MapToObject(response, &record); mErr != nil {
		return nil, mErr
	}
	return &record, nil
}

// DeleteRefreshToken revokes a single refresh token
func (ts *TokenService) DeleteRefreshToken(tokenID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	err := ts.tokenRepo.Delete(ctx, tokenID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	return nil
}

// RevokeAllForFingerprint drops every session of one account, used when an
// account is disabled
func (ts *TokenService) RevokeAllForFingerprint(fingerprint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	client := ts.tokenRepo.GetClient().(*resty.Client)
	var found tokenFindResponse
	resp, err := client.R().SetContext(ctx).SetBody(map[string]interface{}{
		"selector": map[string]interface{}{
			"fingerprint": fingerprint,
		},
		"use_index": "refresh-token-fingerprint-index",
		"limit":     100,
	}).SetResult(&found).Post(fmt.Sprintf("%s/_find", ts.tokenRepo.GetDBName()))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return handleError(resp.Body())
	}

	if len(found.Docs) == 0 {
		return nil
	}
	tombstones := []types.BaseDocument{}
	for _, doc := range found.Docs {
		tombstones = append(tombstones, types.BaseDocument{
			UnderscoreID:  doc.UnderscoreID,
			UnderscoreRev: doc.UnderscoreRev,
			Deleted:       true,
		})
	}
	return bulkDeleteDocuments(ts.tokenRepo, ctx, tombstones)
}

// RemoveExpiredRefreshTokens loops and bulk deletes ledger rows past their
// expiry until the view returns no more rows
func (ts *TokenService) RemoveExpiredRefreshTokens() {
	totalRows := int64(1) // start value to enter the loop
	for totalRows > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)

		cutoff := time.Now().UTC().UnixMilli()
		query := fmt.Sprintf("_design/refreshtoken/_view/expired?descending=true&startkey=%d&limit=100", cutoff)
		response, err := ts.tokenRepo.GetByID(ctx, query)
		if err != nil {
			level.Error(global.Logger).Log("err", err, "msg", "Error getting expired refresh tokens")
			cancel()
			return
		}

		var expired challengeExpiredView
		if mErr := repository.MapToObject(response, &expired); mErr != nil {
			level.Error(global.Logger).Log("err", mErr, "msg", "Error mapping expired refresh tokens")
			cancel()
			return
		}
		if len(expired.Rows) > 0 {
			global.Logger.Log("msg", "removing expired refresh tokens", "count", len(expired.Rows))
			bulkDelete := []types.BaseDocument{}
			for _, row := range expired.Rows {
				bulkDelete = append(bulkDelete, types.BaseDocument{
					UnderscoreID:  row.ID,
					UnderscoreRev: row.Rev,
					Deleted:       true,
				})
			}
			if bulkErr := bulkDeleteDocuments(ts.tokenRepo, ctx, bulkDelete); bulkErr != nil {
				level.Error(global.Logger).Log("err", bulkErr, "msg", "Error deleting expired refresh tokens")
				cancel()
				return
			}
		}
		totalRows = int64(len(expired.Rows))
		cancel()
	}
}
