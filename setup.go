package main

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

// Configure DB Repositories and create DB Selector
func ConfigDBSelector() repository.DBSelector {
	repoUrl := global.Conf.CouchDB.Scheme + "://" + global.Conf.CouchDB.Host + ":" + strconv.Itoa(global.Conf.CouchDB.Port)

	challengeRepo, challengeRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Challenge, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	userRepo, userRepoErr := repository.NewCouchDBRepository(repoUrl, repository.User, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	mappingRepo, mappingRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Mapping, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	refreshTokenRepo, refreshTokenRepoErr := repository.NewCouchDBRepository(repoUrl, repository.RefreshToken, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	keyBackupRepo, keyBackupRepoErr := repository.NewCouchDBRepository(repoUrl, repository.KeyBackup, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	webauthnRepo, webauthnRepoErr := repository.NewCouchDBRepository(repoUrl, repository.WebAuthnUser, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)

	repoErr := errors.Join(challengeRepoErr, userRepoErr, mappingRepoErr, refreshTokenRepoErr, keyBackupRepoErr, webauthnRepoErr)
	if repoErr != nil {
		global.Logger.Log("error", "Failed to create repositories", "error", repoErr.Error())
		panic(repoErr)
	}

	// REPOSITORY definitions
	dbSelector := repository.NewCouchDBSelector()
	dbSelector.AddDB(challengeRepo)
	dbSelector.AddDB(userRepo)
	dbSelector.AddDB(mappingRepo)
	dbSelector.AddDB(refreshTokenRepo)
	dbSelector.AddDB(keyBackupRepo)
	dbSelector.AddDB(webauthnRepo)

	return dbSelector
}

func ConfigDBIndexing(dbSelector *repository.CouchDBSelector, environment *types.Environment) {
	// CREATE REQUIRED SERVICES
	challengeService := services.NewChallengeService(dbSelector)
	tokenService := services.NewTokenService(dbSelector)

	// Create INDEXES
	userRepo, uErr := dbSelector.ChooseDB(repository.User)
	if uErr != nil {
		panic(uErr)
	}
	if iErr := repository.CreateUserKeyIDIndex(userRepo); iErr != nil {
		panic(iErr)
	}
	webauthnRepo, wErr := dbSelector.ChooseDB(repository.WebAuthnUser)
	if wErr != nil {
		panic(wErr)
	}
	if iErr := repository.CreateWebAuthNNameIndex(webauthnRepo); iErr != nil {
		panic(iErr)
	}
	tokenRepo, tErr := dbSelector.ChooseDB(repository.RefreshToken)
	if tErr != nil {
		panic(tErr)
	}
	if iErr := repository.CreateRefreshTokenFingerprintIndex(tokenRepo); iErr != nil {
		panic(iErr)
	}

	// Create DESIGN DOCUMENTS
	// design documents to return all documents past their expiry
	repository.CreateDesign_DeleteExpiredRecordsByExpiryDate(repository.Challenge, "challenge", "expired")
	repository.CreateDesign_DeleteExpiredRecordsByExpiryDate(repository.RefreshToken, "refreshtoken", "expired")

	// cron jobs
	environment.Cron.AddFunc("@every 5m", challengeService.RemoveExpiredChallenges)
	environment.Cron.AddFunc("@every 1h", tokenService.RemoveExpiredRefreshTokens)
	environment.Cron.Start()
	go challengeService.RemoveExpiredChallenges() // run once on startup
	go tokenService.RemoveExpiredRefreshTokens()  // run once on startup
}

func ConfigS3Storage(conf *global.Config, env *types.Environment) {
	// configure S3 storage
	credentials := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(conf.Storage.Key, conf.Storage.Secret, ""))
	awsConf, err := config.LoadDefaultConfig(context.TODO(), config.WithCredentialsProvider(credentials), config.WithRegion(conf.Storage.Region))
	if err != nil {
		panic(err)
	}
	s3Client := s3.NewFromConfig(awsConf)
	uploader := manager.NewUploader(s3Client)
	downloader := manager.NewDownloader(s3Client)
	env.AddS3Uploader(uploader)
	env.AddS3Downloader(downloader)

	env.S3Client = s3Client
}

func ConfigWebAuthn(conf *global.Config, env *types.Environment) {
	host, _, err := net.SplitHostPort(conf.ServerDomain)
	if err != nil {
		if strings.Contains(err.Error(), "missing port in address") {
			host = conf.ServerDomain
		} else {
			panic(err)
		}
	}
	requireResidentKey := true
	wconfig := &webauthn.Config{
		RPDisplayName: conf.ServerDomain,
		RPID:          host,
		RPOrigins:     []string{"https://" + conf.ServerDomain, "localhost", "http://localhost:4200"},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification:   protocol.VerificationRequired,
			RequireResidentKey: &requireResidentKey,
		},
	}
	webAuthn, err := webauthn.New(wconfig)
	if err != nil {
		panic(err)
	}

	env.WebAuthn = webAuthn
}
