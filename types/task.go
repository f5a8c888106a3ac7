package types

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

var (
	QueueTypeMailboxProvision = "mailbox:provision"
)

// MailboxProvisionTask asks the mail-admin webhook to create the IMAP
// account for a freshly registered identity. The mail password never
// travels in the payload; the client rederives it locally.
type MailboxProvisionTask struct {
	Fingerprint string `json:"fingerprint" validate:"required"`
	Email       string `json:"email" validate:"required"`
}

func NewMailboxProvisionTask(task *MailboxProvisionTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeMailboxProvision, payload), nil
}
