package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/keymail/go-keymail-server/types"
	"github.com/stretchr/testify/assert"
)

var url = "http://localhost:5689"

func InitMockDatabase(dbName string) (Repository, error) {
	httpmock.Activate()

	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s", url, "_all_dbs"),
		httpmock.NewStringResponder(200, `[]`))

	mr, mErr := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	if mErr != nil {
		return nil, mErr
	}
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", url, dbName), mr)

	db, err := NewCouchDBRepository(url, dbName, "test", "test", true)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func deactivateMock() {
	httpmock.DeactivateAndReset()
}

func TestInitNewDatabase(t *testing.T) {
	db, err := InitMockDatabase("challenges")
	defer deactivateMock()
	if err != nil {
		t.Fatal(err)
	}
	if db == nil {
		t.Fatal("db is nil")
	}
	assert.Equal(t, "challenges", db.GetDBName())
}

func TestSaveAndGetByID(t *testing.T) {
	db, _ := InitMockDatabase("challenges")
	defer deactivateMock()

	mk, _ := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "challenges", "abc"), mk)

	mk, _ = httpmock.NewJsonResponder(200, types.Challenge{BaseDocument: types.BaseDocument{ID: "abc"}, Value: "abc"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "challenges", "abc"), mk)

	err := db.Save(context.Background(), "abc", &types.Challenge{BaseDocument: types.BaseDocument{ID: "abc"}, Value: "abc"})
	assert.NoError(t, err)

	res, err := db.GetByID(context.Background(), "abc")
	assert.NoError(t, err)

	var challenge types.Challenge
	err = MapToObject(res, &challenge)
	assert.NoError(t, err)
	assert.Equal(t, "abc", challenge.Value)
}

func TestGetByIDNotFound(t *testing.T) {
	db, _ := InitMockDatabase("users")
	defer deactivateMock()

	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "users", "missing"),
		httpmock.NewStringResponder(404, `{"error":"not_found","reason":"missing"}`))

	_, err := db.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSaveBadRequestCarriesReason(t *testing.T) {
	db, _ := InitMockDatabase("challenges")
	defer deactivateMock()

	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "challenges", "bad"),
		httpmock.NewStringResponder(400, `{"error":"bad_request","reason":"invalid UTF-8 JSON"}`))

	err := db.Save(context.Background(), "bad", &types.Challenge{Value: "bad"})
	assert.ErrorIs(t, err, types.ErrBadRequest)
	assert.Contains(t, err.Error(), "invalid UTF-8 JSON")
}

func TestSaveConflict(t *testing.T) {
	db, _ := InitMockDatabase("challenges")
	defer deactivateMock()

	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "challenges", "taken"),
		httpmock.NewStringResponder(409, `{"error":"conflict","reason":"Document update conflict."}`))

	err := db.Save(context.Background(), "taken", &types.Challenge{Value: "taken"})
	assert.ErrorIs(t, err, types.ErrConflict)
}
