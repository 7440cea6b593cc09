package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
)

// DocBridgeClient talks to a running gateway and prints its responses.
type DocBridgeClient struct {
	port int
}

func NewClient(port int) DocBridgeClient {
	return DocBridgeClient{port: port}
}

// Status sends a request to get the status of the gateway.
func (c DocBridgeClient) Status(ctx context.Context) error {
	return doClientRequest[statusResponse](ctx, c.port, http.MethodGet, "status", nil)
}

// SyncStart sends a request to start synchronizing a collection.
func (c DocBridgeClient) SyncStart(ctx context.Context, req syncRequest) error {
	return doClientRequest[okResponse](ctx, c.port, http.MethodPost, "sync/start", req)
}

// SyncStop sends a request to stop synchronizing a collection.
func (c DocBridgeClient) SyncStop(ctx context.Context, req syncRequest) error {
	return doClientRequest[okResponse](ctx, c.port, http.MethodPost, "sync/stop", req)
}

func doClientRequest[T any](ctx context.Context, port int, method, path string, body any) error {
	url := fmt.Sprintf("http://localhost:%d/%s", port, path)

	bodyData := []byte("")
	if body != nil {
		var err error
		bodyData, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyData))
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	log.Ctx(ctx).Debugf("%s /%s %s", method, path, string(bodyData))

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer res.Body.Close()

	var resp T

	err = json.NewDecoder(res.Body).Decode(&resp)
	if err != nil {
		return errors.Wrap(err, "decode response")
	}

	return printJSON(os.Stdout, resp)
}
