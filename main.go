package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/hibiken/asynq"
	"github.com/keymail/go-keymail-server/apiroutes"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/queue"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/types"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"
)

// loads server signing keys into global variables for session token signing
// and verification
func loadServerEd25519Keys(conf global.Config) {
	serverKeysBytes, err := os.ReadFile(conf.Auth.ServerKeysPath)
	if err != nil {
		panic(err)
	}
	var serverKeysJson types.ServerKeys
	err = json.Unmarshal(serverKeysBytes, &serverKeysJson)
	if err != nil {
		panic(err)
	}
	decodedPrivBytes, err := base64.StdEncoding.DecodeString(serverKeysJson.PrivateKey)
	if err != nil {
		panic(fmt.Sprintf("Failed to decode servers private key %s", err.Error()))
	}
	// The public key is the last 32 bytes of the private key
	publicKeyBytes := decodedPrivBytes[32:]

	global.PublicKey = ed25519.PublicKey(publicKeyBytes)
	global.PrivateKey = ed25519.PrivateKey(decodedPrivBytes)
	global.ServerKeysCreated = serverKeysJson.Created
}

func initRedisRateLimiter(conf global.Config) *redis.Client {
	redisRateLimitClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Host + ":" + strconv.Itoa(conf.Redis.Port),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       1,
	})

	rCtx, rCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer rCancel()

	_ = redisRateLimitClient.FlushDB(rCtx).Err()

	limiter := redis_rate.NewLimiter(redisRateLimitClient)
	global.RateLimiter = limiter

	return redisRateLimitClient
}

// calculates the retry delay using exponential backoff
func asyncRetryDelayFunc(attempt int, err error, t *asynq.Task) time.Duration {
	baseDelay := 1 * time.Minute
	maxDelay := 60 * time.Minute

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// initializes the async queue
func initAsyncQueue(dbSelector *repository.CouchDBSelector, env *types.Environment) (*asynq.Server, *asynq.Client) {
	queueRedisClient := asynq.RedisClientOpt{
		Addr:     global.Conf.Redis.Host + ":" + strconv.Itoa(global.Conf.Redis.Port),
		Username: global.Conf.Redis.Username,
		Password: global.Conf.Redis.Password,
		DB:       2,
	}

	logLevel := asynq.InfoLevel
	if global.Conf.Mode != "debug" {
		logLevel = asynq.WarnLevel
	}
	concurrency := 50
	if global.Conf.Queue.Concurrency > 0 {
		concurrency = global.Conf.Queue.Concurrency
	}

	taskClient := asynq.NewClient(queueRedisClient)
	taskServer := asynq.NewServer(
		queueRedisClient,
		asynq.Config{
			Concurrency:    concurrency,
			LogLevel:       logLevel,
			RetryDelayFunc: asyncRetryDelayFunc,
		},
	)

	provisionQueue := queue.NewProvisionQueue(dbSelector, env)
	mux := asynq.NewServeMux()
	mux.HandleFunc(types.QueueTypeMailboxProvision, provisionQueue.ProcessMailboxProvisionTask)

	if err := taskServer.Start(mux); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
	return taskServer, taskClient
}

// @title Keymail Server API
// @version 1.0
// @description PGP key based authentication and session service for the Keymail webmail
// @SecurityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	var (
		configFile string
	)
	// configuration file optional path. Default: current dir with filename conf.yaml
	flag.StringVar(&configFile, "c", "conf.yaml", "Configuration file path.")
	flag.StringVar(&configFile, "config", "conf.yaml", "Configuration file path.")
	flag.Usage = usage
	flag.Parse()

	// loading configuration file
	err := global.LoadConfig(configFile, &global.Conf)
	if err != nil {
		global.Logger.Log("err", err, "msg", "conf.yaml failed to load")
		panic("Failed to load conf.yaml")
	}

	// loads server keys into global variables for signing and signature validation
	loadServerEd25519Keys(global.Conf)
	rrClient := initRedisRateLimiter(global.Conf)
	defer rrClient.Close()

	env := types.NewEnvironment(rrClient)
	defer env.Cron.Stop()

	// server wait to shutdown monitoring channels
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	stop := make(chan os.Signal, 1)

	signal.Notify(quit, os.Interrupt)
	signal.Notify(stop, os.Interrupt)

	if global.Conf.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	dbSelector := ConfigDBSelector()
	ConfigDBIndexing(dbSelector.(*repository.CouchDBSelector), env)

	// configure S3 storage for key backups
	ConfigS3Storage(&global.Conf, env)

	// configure WebAuthn for hardware key accounts
	ConfigWebAuthn(&global.Conf, env)

	// initialize the async queue
	taskServer, taskClient := initAsyncQueue(dbSelector.(*repository.CouchDBSelector), env)
	defer taskClient.Close()
	env.TaskClient = taskClient

	// configure routes
	router = apiroutes.ConfigRoutes(router, dbSelector, env)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", global.Conf.Host, global.Conf.Port),
		Handler: router,
	}

	// graceful http server shutdown
	go func() {
		<-quit
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if sErr := srv.Shutdown(ctx); sErr != nil {
			global.Logger.Log("err", sErr, "msg", "server shutdown failed")
		}
		close(done)
	}()

	// stop the async queue server
	go func() {
		for {
			s := <-stop
			fmt.Printf("shutting down task queue server")
			if s == unix.SIGTSTP {
				taskServer.Stop() // Stop processing new tasks
				continue
			}
			break
		}
		taskServer.Shutdown()
	}()

	global.Logger.Log("msg", "Server is ready to handle requests", "port", global.Conf.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("%v\n", err))
	}

	<-done
}

// usage will print out the flag options for the server.
func usage() {
	usageStr := `Usage: keymail-server [options]
	Server Options:
	-c, --config <file>              Configuration file path
`
	fmt.Printf("%s\n", usageStr)
	os.Exit(0)
}
