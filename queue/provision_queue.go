package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

// ProvisionQueue creates IMAP mailboxes for freshly registered accounts by
// calling the mail-admin webhook. The webhook is idempotent per email, so a
// retried task is harmless.
type ProvisionQueue struct {
	userService *services.UserService
	restyClient *resty.Client
	env         *types.Environment
}

func NewProvisionQueue(dbSelector repository.DBSelector, env *types.Environment) *ProvisionQueue {
	rcClient := resty.New().SetTimeout(time.Second * 30)
	userService := services.NewUserService(dbSelector)

	return &ProvisionQueue{
		userService: userService,
		restyClient: rcClient,
		env:         env,
	}
}

// ProcessMailboxProvisionTask handles a single mailbox creation request
func (pq *ProvisionQueue) ProcessMailboxProvisionTask(ctx context.Context, t *asynq.Task) error {
	var task types.MailboxProvisionTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if t.Type() != types.QueueTypeMailboxProvision {
		return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
	}

	// the account must still exist and not be disabled
	user, uErr := pq.userService.GetUser(task.Fingerprint)
	if uErr != nil {
		return fmt.Errorf("account not found for provisioning: %v: %w", uErr, asynq.SkipRetry)
	}
	if user.Status == types.UserStatusDisabled {
		global.Logger.Log("msg", "skipping provisioning of disabled account", "fingerprint", task.Fingerprint)
		return nil
	}

	if global.Conf.Provisioner.WebhookURL == "" {
		global.Logger.Log("msg", "no provisioner webhook configured, skipping", "email", task.Email)
		return nil
	}

	resp, rErr := pq.restyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+global.Conf.Provisioner.WebhookKey).
		SetBody(map[string]interface{}{
			"email":       task.Email,
			"fingerprint": task.Fingerprint,
		}).
		Post(global.Conf.Provisioner.WebhookURL)
	if rErr != nil {
		return rErr // network errors retry with backoff
	}
	if resp.IsError() {
		return fmt.Errorf("provisioner webhook returned %d: %s", resp.StatusCode(), resp.Body())
	}

	global.Logger.Log("msg", "mailbox provisioned", "email", task.Email)
	return nil
}
