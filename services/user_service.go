package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/pgp"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
	"github.com/keymail/go-keymail-server/util"
	"golang.org/x/net/idna"
)

type UserService struct {
	repoSelector repository.DBSelector
}

func NewUserService(repoSelector repository.DBSelector) *UserService {
	if repoSelector == nil {
		panic("repoSelector cannot be nil")
	}
	return &UserService{
		repoSelector: repoSelector,
	}
}

// NormalizeEmail lowercases the address and punycodes an internationalized
// domain so the same mailbox always blinds to the same lookup key
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", types.ErrBadRequest
	}
	domain, err := idna.Lookup.ToASCII(trimmed[at+1:])
	if err != nil {
		return "", types.ErrBadRequest
	}
	return trimmed[:at+1] + domain, nil
}

// CreateUser registers a new identity from its armored public key. KeyID and
// Fingerprint are rederived from the armor here; values claimed by the
// client never reach the database.
func (us *UserService) CreateUser(user *types.User) (*types.User, error) {
	meta, pErr := pgp.ParsePublicKey(user.PublicKeyArmor)
	if pErr != nil {
		return nil, pErr
	}
	if user.Fingerprint != "" && !strings.EqualFold(user.Fingerprint, meta.Fingerprint) {
		return nil, types.ErrBadRequest
	}

	email, nErr := NormalizeEmail(user.Email)
	if nErr != nil {
		return nil, nErr
	}
	blinded, bErr := util.BlindEmail(email)
	if bErr != nil {
		return nil, bErr
	}

	now := time.Now().UTC().UnixMilli()
	user.Email = email
	user.BlindedEmail = blinded
	user.KeyID = meta.KeyID
	user.Fingerprint = meta.Fingerprint
	user.Status = types.UserStatusPending
	user.Created = now

	userRepo, rErr := us.repoSelector.ChooseDB(repository.User)
	if rErr != nil {
		return nil, rErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	// the mapping save is the uniqueness gate for the email
	if _, mErr := us.mapEmailToAccount(ctx, blinded, meta.Fingerprint); mErr != nil {
		return nil, mErr
	}

	if err := userRepo.Save(ctx, meta.Fingerprint, user); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, types.ErrUserExists
		}
		level.Error(global.Logger).Log("err", err, "msg", "Failed to register user")
		return nil, err
	}
	return user, nil
}

// mapEmailToAccount claims the blinded email for a fingerprint. An existing
// mapping to a different fingerprint means the address is taken.
func (us *UserService) mapEmailToAccount(ctx context.Context, blindedEmail string, fingerprint string) (*types.EmailToAccountMapping, error) {
	repo, err := us.repoSelector.ChooseDB(repository.Mapping)
	if err != nil {
		return nil, err
	}

	mapping := &types.EmailToAccountMapping{
		BlindedEmail: blindedEmail,
		Fingerprint:  fingerprint,
	}

	existingResponse, eErr := repo.GetByID(ctx, blindedEmail)
	if eErr != nil && !errors.Is(eErr, types.ErrNotFound) {
		return nil, eErr
	}
	if eErr == nil {
		var existing types.EmailToAccountMapping
		if mErr := repository.MapToObject(existingResponse, &existing); mErr != nil {
			return nil, mErr
		}
		if existing.Fingerprint != fingerprint {
			return nil, types.ErrUserExists
		}
		mapping.BaseDocument = existing.BaseDocument
	}

	if sErr := repo.Save(ctx, blindedEmail, mapping); sErr != nil {
		if errors.Is(sErr, types.ErrConflict) {
			return nil, types.ErrUserExists
		}
		return nil, sErr
	}
	return mapping, nil
}

// FindUserByEmail resolves an email to its account through the blinded
// mapping. This is the only email lookup path.
func (us *UserService) FindUserByEmail(email string) (*types.User, error) {
	normalized, nErr := NormalizeEmail(email)
	if nErr != nil {
		return nil, nErr
	}
	blinded, bErr := util.BlindEmail(normalized)
	if bErr != nil {
		return nil, bErr
	}

	repo, err := us.repoSelector.ChooseDB(repository.Mapping)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	response, gErr := repo.GetByID(ctx, blinded)
	if gErr != nil {
		return nil, gErr
	}
	var mapping types.EmailToAccountMapping
	if mErr := repository.MapToObject(response, &mapping); mErr != nil {
		return nil, mErr
	}
	return us.GetUser(mapping.Fingerprint)
}

// GetUser returns a user by key fingerprint
func (us *UserService) GetUser(fingerprint string) (*types.User, error) {
	repo, err := us.repoSelector.ChooseDB(repository.User)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	response, gErr := repo.GetByID(ctx, fingerprint)
	if gErr != nil {
		return nil, gErr
	}
	var user types.User
	if mErr := repository.MapToObject(response, &user); mErr != nil {
		return nil, mErr
	}
	return &user, nil
}

// ActivateUser flips a pending account to active after its first successful
// signed-challenge login
func (us *UserService) ActivateUser(fingerprint string) (*types.User, error) {
	return us.setStatus(fingerprint, types.UserStatusActive)
}

// DisableUser locks an account out without deleting any of its data
func (us *UserService) DisableUser(fingerprint string) (*types.User, error) {
	return us.setStatus(fingerprint, types.UserStatusDisabled)
}

func (us *UserService) setStatus(fingerprint string, status types.UserStatus) (*types.User, error) {
	user, err := us.GetUser(fingerprint)
	if err != nil {
		return nil, err
	}
	if user.Status == status {
		return user, nil
	}
	user.Status = status
	user.Modified = time.Now().UTC().UnixMilli()

	repo, rErr := us.repoSelector.ChooseDB(repository.User)
	if rErr != nil {
		return nil, rErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if sErr := repo.Save(ctx, fingerprint, user); sErr != nil {
		return nil, sErr
	}
	return user, nil
}
