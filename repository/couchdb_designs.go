package repository

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/types"
)

func createDesignAndView(databaseName string, designName string, viewName string, mapFunction string, reduceFunction string) error {
	client := resty.New().SetTimeout(time.Second*10).SetBasicAuth(global.Conf.CouchDB.Username, global.Conf.CouchDB.Password)

	host := ""
	scheme := global.Conf.CouchDB.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if global.Conf.CouchDB.Port != 0 {
		host = fmt.Sprintf("%s://%s:%d", scheme, global.Conf.CouchDB.Host, global.Conf.CouchDB.Port)
	} else {
		host = fmt.Sprintf("%s://%s", scheme, global.Conf.CouchDB.Host)
	}
	url := fmt.Sprintf("%s/%s/_design/%s/_view/%s", host, databaseName, designName, viewName)
	existingResponse, eErr := client.R().Head(url)
	if eErr != nil {
		panic(eErr)
	}
	if existingResponse.IsError() {
		if existingResponse.StatusCode() != 404 {
			panic(fmt.Sprintf("failed to create design %s with view %s, error: %s", designName, viewName, existingResponse.Error()))
		}
	}
	if existingResponse.StatusCode() == 200 {
		return nil // view already exists
	}

	// create a design document and a view
	ddoc := &types.DesignDocument{
		Language: "javascript",
		Views: map[string]types.MapFunction{
			viewName: {
				Map: mapFunction,
			},
		},
	}
	if reduceFunction != "" {
		temp := ddoc.Views[viewName]
		temp.Reduce = reduceFunction
		ddoc.Views[viewName] = temp
	}
	url = fmt.Sprintf("%s/%s/_design/%s", host, databaseName, designName)
	resp, err := client.R().SetBody(ddoc).Put(url)
	if err != nil {
		panic(err)
	}
	if resp.IsError() {
		panic(resp.Error())
	}

	return nil
}

// indexes documents by their expiry timestamp so the cron sweeps can page
// through everything past a cutoff. Used for challenges and refresh tokens.
func CreateDesign_DeleteExpiredRecordsByExpiryDate(databaseName string, designName string, viewName string) error {
	mapFunction := `function(doc)
						{
							if (doc.expires) {
								emit(doc.expires, doc._rev);
							}
						}`
	return createDesignAndView(databaseName, designName, viewName, mapFunction, "")
}
