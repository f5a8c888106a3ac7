package repository

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/types"
)

// couchError maps a CouchDB error response onto the repository error set.
// 404 and 409 carry meaning for callers (missing document, stale revision),
// everything else collapses into a bad request carrying CouchDB's reason.
func couchError(resp *resty.Response) error {
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusConflict:
		return types.ErrConflict
	}
	if !resp.IsError() {
		return nil
	}
	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		level.Error(global.Logger).Log("err", err, "msg", "unreadable couchdb error body", "status", resp.StatusCode())
		return types.ErrBadRequest
	}
	if body.Error != "" {
		return fmt.Errorf("%w: %s: %s", types.ErrBadRequest, body.Error, body.Reason)
	}
	return types.ErrBadRequest
}
