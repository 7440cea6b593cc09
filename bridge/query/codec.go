package query

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/errors"
)

// DecodeDocument parses an Extended JSON document keeping key order.
func DecodeDocument(data []byte) (bson.D, error) {
	if len(data) == 0 {
		return bson.D{}, nil
	}

	var doc bson.D

	err := bson.UnmarshalExtJSON(data, false, &doc)
	if err != nil {
		return nil, errors.Wrap(err, "decode extended json")
	}

	return doc, nil
}

// DecodePipeline parses an Extended JSON array of stage documents.
func DecodePipeline(data []byte) ([]bson.D, error) {
	if len(data) == 0 {
		return nil, nil
	}

	wrapped := make([]byte, 0, len(data)+7)
	wrapped = append(wrapped, `{"p":`...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, '}')

	var holder struct {
		P []bson.D `bson:"p"`
	}

	err := bson.UnmarshalExtJSON(wrapped, false, &holder)
	if err != nil {
		return nil, errors.Wrap(err, "decode pipeline")
	}

	return holder.P, nil
}
