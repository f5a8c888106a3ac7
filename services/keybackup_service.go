package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
)

// KeyBackupService deposits passphrase-encrypted private keys in object
// storage for device recovery. The blob arrives already encrypted client
// side; the server only ever sees ciphertext.
type KeyBackupService struct {
	env        *types.Environment
	backupRepo repository.Repository
}

func NewKeyBackupService(repoSelector repository.DBSelector, env *types.Environment) *KeyBackupService {
	db, err := repoSelector.ChooseDB(repository.KeyBackup)
	if err != nil {
		panic(err)
	}
	return &KeyBackupService{
		env:        env,
		backupRepo: db,
	}
}

func backupObjectKey(fingerprint string) string {
	return fmt.Sprintf("/keybackups/%s.cbor", fingerprint)
}

// StoreBackup uploads the encrypted key envelope and records its metadata.
// An existing backup for the same fingerprint is replaced.
func (ks *KeyBackupService) StoreBackup(user *types.User, cipherPrivateKey string) (*types.KeyBackup, error) {
	if cipherPrivateKey == "" {
		return nil, types.ErrBadRequest
	}
	now := time.Now().UTC().UnixMilli()
	envelope := &types.KeyBackupEnvelope{
		Fingerprint:      user.Fingerprint,
		Email:            user.Email,
		CipherPrivateKey: cipherPrivateKey,
		Created:          now,
	}
	encoded, cErr := cbor.Marshal(envelope)
	if cErr != nil {
		return nil, cErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	objectKey := backupObjectKey(user.Fingerprint)
	_, uErr := ks.env.S3Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(global.Conf.Storage.Bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(encoded),
	})
	if uErr != nil {
		global.Logger.Log("err", uErr, "msg", "failed to upload key backup", "objectKey", objectKey)
		return nil, uErr
	}

	backup := &types.KeyBackup{
		Fingerprint: user.Fingerprint,
		Email:       user.Email,
		S3Path:      fmt.Sprintf("s3://%s%s", global.Conf.Storage.Bucket, objectKey),
		SizeBytes:   int64(len(encoded)),
		Created:     now,
	}

	existingResp, eErr := ks.backupRepo.GetByID(ctx, user.Fingerprint)
	if eErr != nil && !errors.Is(eErr, types.ErrNotFound) {
		return nil, eErr
	}
	if eErr == nil {
		var existing types.KeyBackup
		if mErr := repository.MapToObject(existingResp, &existing); mErr != nil {
			return nil, mErr
		}
		backup.BaseDocument = existing.BaseDocument
		backup.Created = existing.Created
		backup.Modified = now
	}

	if sErr := ks.backupRepo.Save(ctx, user.Fingerprint, backup); sErr != nil {
		return nil, sErr
	}
	return backup, nil
}

// RetrieveBackup downloads and decodes the stored envelope for an account
func (ks *KeyBackupService) RetrieveBackup(fingerprint string) (*types.KeyBackupEnvelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the metadata document gates access before the object store is touched
	if _, err := ks.GetBackupMetadata(fingerprint); err != nil {
		return nil, err
	}

	buf := manager.NewWriteAtBuffer([]byte{})
	_, dErr := ks.env.S3Downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(global.Conf.Storage.Bucket),
		Key:    aws.String(backupObjectKey(fingerprint)),
	})
	if dErr != nil {
		var noKey *s3Types.NoSuchKey
		if errors.As(dErr, &noKey) {
			return nil, types.ErrNotFound
		}
		global.Logger.Log("err", dErr, "msg", "failed to download key backup", "fingerprint", fingerprint)
		return nil, dErr
	}

	var envelope types.KeyBackupEnvelope
	if mErr := cbor.Unmarshal(buf.Bytes(), &envelope); mErr != nil {
		return nil, mErr
	}
	return &envelope, nil
}

// GetBackupMetadata returns the backup metadata without touching the blob
func (ks *KeyBackupService) GetBackupMetadata(fingerprint string) (*types.KeyBackup, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := ks.backupRepo.GetByID(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	var backup types.KeyBackup
	if mErr := repository.MapToObject(resp, &backup); mErr != nil {
		return nil, mErr
	}
	return &backup, nil
}

// DeleteBackup removes both the blob and its metadata document
func (ks *KeyBackupService) DeleteBackup(fingerprint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := ks.env.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(global.Conf.Storage.Bucket),
		Key:    aws.String(backupObjectKey(fingerprint)),
	})
	if err != nil {
		var noKey *s3Types.NoSuchKey
		var apiErr *smithy.GenericAPIError
		if errors.As(err, &noKey) {
			global.Logger.Log("warning", "backup object does not exist", "fingerprint", fingerprint)
		} else if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "AccessDenied" {
				global.Logger.Log("warning", "access denied", "fingerprint", fingerprint)
				return types.ErrNotAuthorized
			}
			global.Logger.Log("err", err, "msg", "error deleting backup object")
			return err
		} else {
			return err
		}
	}

	dErr := ks.backupRepo.Delete(ctx, fingerprint)
	if dErr != nil && !errors.Is(dErr, types.ErrNotFound) {
		return dErr
	}
	return nil
}
