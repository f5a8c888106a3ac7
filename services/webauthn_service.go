package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
)

type WebAuthnService struct {
	env              *types.Environment
	webauthnUserRepo repository.Repository
}

func NewWebAuthnService(repoSelector repository.DBSelector, env *types.Environment) *WebAuthnService {
	if repoSelector == nil {
		panic("repoSelector cannot be nil")
	}
	webauthnUserRepo, rErr := repoSelector.ChooseDB(repository.WebAuthnUser)
	if rErr != nil {
		level.Error(global.Logger).Log("msg", "failed to choose webauthn user repository", "error", rErr)
		panic(rErr)
	}
	return &WebAuthnService{
		webauthnUserRepo: webauthnUserRepo,
		env:              env,
	}
}

// GetUser gets a webauthn user by key fingerprint
func (s *WebAuthnService) GetUser(fingerprint string) (*types.WebAuthnUser, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := s.webauthnUserRepo.GetByID(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			level.Error(global.Logger).Log("msg", "failed to get webauthn user", "error", err)
		}
		return nil, err
	}

	var user types.WebAuthnUserDB
	if mErr := repository.MapToObject(resp, &user); mErr != nil {
		level.Error(global.Logger).Log("msg", "failed to map object", "error", mErr)
		return nil, mErr
	}
	return types.MapWebAuthnUserFromDB(user), nil
}

// SaveUser saves a new webauthn user or overrides an existing one
func (s *WebAuthnService) SaveUser(user *types.WebAuthnUser) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	newUserDB := types.MapWebAuthnUserToDB(*user)

	resp, uErr := s.webauthnUserRepo.GetByID(ctx, newUserDB.Fingerprint)
	if uErr != nil && !errors.Is(uErr, types.ErrNotFound) {
		level.Error(global.Logger).Log("msg", "failed to get webauthn user", "error", uErr)
		return uErr
	}
	if uErr == nil {
		var existing types.WebAuthnUserDB
		if mErr := repository.MapToObject(resp, &existing); mErr != nil {
			level.Error(global.Logger).Log("msg", "failed to map object", "error", mErr)
			return mErr
		}
		newUserDB.UnderscoreID = existing.UnderscoreID
		newUserDB.UnderscoreRev = existing.UnderscoreRev
	}

	if err := s.webauthnUserRepo.Save(ctx, newUserDB.Fingerprint, newUserDB); err != nil {
		level.Error(global.Logger).Log("msg", "failed to save webauthn user", "error", err)
		return err
	}
	return nil
}

// GetUserByEmail gets a webauthn user by email (querying the field: name)
func (s *WebAuthnService) GetUserByEmail(email string) (*types.WebAuthnUserDB, error) {
	email = strings.ToLower(email)
	resp, err := s.webauthnUserRepo.GetClient().(*resty.Client).R().
		SetBody(map[string]interface{}{
			"selector": map[string]interface{}{
				"name": map[string]interface{}{
					"$eq": email,
				},
			},
			"limit": 1,
		}).Post(fmt.Sprintf("%s/_find", repository.WebAuthnUser))
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to get webauthn user by email", "error", err)
		return nil, err
	}
	if resp.IsError() {
		if resp.StatusCode() == 404 {
			return nil, types.ErrNotFound
		}
		level.Error(global.Logger).Log("msg", "failed to get webauthn user by email", "status", resp.StatusCode())
		return nil, types.ErrInternal
	}

	var found struct {
		Docs []types.WebAuthnUserDB `json:"docs"`
	}
	if mErr := json.Unmarshal(resp.Body(), &found); mErr != nil {
		level.Error(global.Logger).Log("msg", "failed to map object", "error", mErr)
		return nil, mErr
	}
	if len(found.Docs) == 0 {
		return nil, types.ErrNotFound
	}
	return &found.Docs[0], nil
}
