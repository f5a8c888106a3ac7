package services

import (
	"encoding/json"
	"errors"

	"github.com/keymail/go-keymail-server/global"
)

func handleError(body []byte) error {
	var parsed map[string]interface{}
	uErr := json.Unmarshal(body, &parsed)
	if uErr != nil {
		global.Logger.Log("err", uErr, "msg", "Failed to unmarshal response")
		return uErr
	}
	if parsed["error"] != nil {
		global.Logger.Log("err", parsed["error"])
		return errors.New(parsed["error"].(string))
	}
	return nil
}
