package main

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/bridge/txn"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/validate"
)

// errBadRequest marks request bodies that cannot be decoded.
const errBadRequest errors.Code = "BadRequest"

// rawJSON holds an Extended JSON value that is decoded with key order kept.
type rawJSON = json.RawMessage

func isNull(data rawJSON) bool {
	data = bytes.TrimSpace(data)

	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func decodeDocument(name string, data rawJSON) (bson.D, error) {
	if isNull(data) {
		return nil, nil
	}

	doc, err := query.DecodeDocument(data)
	if err != nil {
		return nil, errors.WithCode(errors.Wrap(err, name), errBadRequest)
	}

	return doc, nil
}

// translateRequest represents the request body for the /translate and /find endpoints.
type translateRequest struct {
	// Collection is the container the plan reads.
	Collection string `json:"collection" validate:"required"`

	// Filter is the query filter document.
	Filter rawJSON `json:"filter,omitempty"`
	// Projection is the projection document.
	Projection rawJSON `json:"projection,omitempty"`
	// Sort is the sort document.
	Sort rawJSON `json:"sort,omitempty"`
	// Pipeline is the aggregation pipeline.
	Pipeline rawJSON `json:"pipeline,omitempty"`

	Skip  int64 `json:"skip,omitempty"  validate:"gte=0"`
	Limit int64 `json:"limit,omitempty" validate:"gte=0"`
}

func (r *translateRequest) options() (query.Options, error) {
	var opts query.Options

	var err error

	opts.Filter, err = decodeDocument("filter", r.Filter)
	if err != nil {
		return opts, err
	}

	opts.Projection, err = decodeDocument("projection", r.Projection)
	if err != nil {
		return opts, err
	}

	opts.Sort, err = decodeDocument("sort", r.Sort)
	if err != nil {
		return opts, err
	}

	if !isNull(r.Pipeline) {
		opts.Pipeline, err = query.DecodePipeline(r.Pipeline)
		if err != nil {
			return opts, errors.WithCode(errors.Wrap(err, "pipeline"), errBadRequest)
		}
	}

	opts.Skip = r.Skip
	opts.Limit = r.Limit

	return opts, nil
}

// translateResponse represents the response body for the /translate endpoint.
type translateResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`
	// Code is the machine readable error code.
	Code string `json:"code,omitempty"`

	Dialect   string   `json:"dialect,omitempty"`
	Statement string   `json:"statement,omitempty"`
	Columns   []string `json:"columns,omitempty"`
}

func newTranslateResponse(plan *query.Plan) translateResponse {
	return translateResponse{
		Ok:        true,
		Dialect:   plan.Dialect().Name(),
		Statement: plan.Statement(),
		Columns:   plan.Columns(),
	}
}

// translateOffline builds the plan without stores. Failures are reported in
// the response.
func translateOffline(d query.Dialect, req translateRequest) translateResponse {
	err := validate.Struct(&req)
	if err != nil {
		return translateResponse{Err: err.Error(), Code: string(errors.CodeOf(err))}
	}

	opts, err := req.options()
	if err != nil {
		return translateResponse{Err: err.Error(), Code: string(errors.CodeOf(err))}
	}

	plan, err := query.NewBuilder(d).Build(req.Collection, opts)
	if err != nil {
		return translateResponse{Err: err.Error(), Code: string(errors.CodeOf(err))}
	}

	return newTranslateResponse(plan)
}

// findResponse represents the response body for the /find endpoint.
type findResponse struct {
	translateResponse

	Documents []connector.Document `json:"documents"`
}

// writeRequest represents a single write operation.
type writeRequest struct {
	// Store is the addressed store. Empty means the target.
	Store      string `json:"store,omitempty"`
	Collection string `json:"collection" validate:"required"`
	Kind       string `json:"kind"       validate:"required,oneof=insert update upsert delete"`
	ID         string `json:"id"         validate:"required"`
	// Document is the Extended JSON document of the write.
	Document rawJSON `json:"document,omitempty"`
}

func (r *writeRequest) operation() (connector.Operation, error) {
	op := connector.Operation{
		Store:      r.Store,
		Collection: r.Collection,
		Kind:       connector.Kind(r.Kind),
		ID:         r.ID,
	}

	doc, err := decodeDocument("document", r.Document)
	if err != nil {
		return op, err
	}

	if doc != nil {
		op.Document = connector.FromBSON(doc)
	}

	return op, nil
}

// enlistRequest represents the request body for the /txn/enlist endpoint.
type enlistRequest struct {
	ID        string       `json:"id"        validate:"required,uuid"`
	Operation writeRequest `json:"operation"`
}

// txnRequest represents the request body of the transaction phase endpoints.
type txnRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

// txnResponse represents the response body of the transaction endpoints.
type txnResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`
	// Code is the machine readable error code.
	Code string `json:"code,omitempty"`

	ID          string      `json:"id,omitempty"`
	Transaction *txn.Record `json:"transaction,omitempty"`
}

// syncRequest represents the request body for the /sync/start and /sync/stop endpoints.
type syncRequest struct {
	// Namespace is the "db.collection" to synchronize.
	Namespace string `json:"namespace" validate:"required,namespace"`
}

// okResponse is the response of endpoints that only report success.
type okResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`
	// Code is the machine readable error code.
	Code string `json:"code,omitempty"`
}

// statusResponse represents the response body for the /status endpoint.
type statusResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`

	Source  string `json:"source"`
	Target  string `json:"target"`
	Dialect string `json:"dialect"`

	// ActiveTransactions is the number of unresolved transactions.
	ActiveTransactions int `json:"activeTransactions"`
	// DeadLetters is the number of batches dead-lettered since startup.
	DeadLetters int64 `json:"deadLetters"`

	Sync []syncStatus `json:"sync"`
}

type syncStatus struct {
	Namespace string `json:"namespace"`
	Running   bool   `json:"running"`
	Err       string `json:"error,omitempty"`

	EventsRead    int64 `json:"eventsRead"`
	EventsApplied int64 `json:"eventsApplied"`
	DeadLettered  int64 `json:"deadLettered"`
	BatchesOK     int64 `json:"batchesOk"`
	BatchesFailed int64 `json:"batchesFailed"`

	// LastClusterTime is the cluster time of the last applied event.
	LastClusterTime *clusterTime `json:"lastClusterTime,omitempty"`
	// LagTimeSeconds is the wall time since the last applied event.
	LagTimeSeconds int64 `json:"lagTimeSeconds,omitempty"`
}

type clusterTime struct {
	TS      string `json:"ts"`
	ISODate string `json:"isoDate"`
}

// deadLettersResponse represents the response body for the /sync/deadletters endpoint.
type deadLettersResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`

	// Total counts every dead letter, including the evicted ones.
	Total       int64        `json:"total"`
	DeadLetters []deadLetter `json:"deadLetters"`
}

type deadLetter struct {
	Namespace   string    `json:"namespace"`
	DocumentIDs []string  `json:"documentIds"`
	Attempts    int       `json:"attempts"`
	Err         string    `json:"error"`
	At          time.Time `json:"at"`
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	j := json.NewEncoder(w)
	j.SetIndent("", "  ")

	return errors.Wrap(j.Encode(v), "print response")
}
