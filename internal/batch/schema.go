// Package batch implements the batch negotiation endpoint: request
// parsing/validation, transfer adapter selection, per-object permission
// checks with a partial-authorization fallback, and response aggregation.
package batch

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Ref is the optional git ref a batch request is scoped to; accepted but
// otherwise unused (the permission model isn't ref-aware).
type Ref struct {
	Name string `json:"name" validate:"required"`
}

// Object is one requested object within a batch call. Extra carries every
// "x-*"-prefixed field whose value is a JSON string, with the prefix
// stripped; x-* fields with non-string values are dropped. Same convention
// ObjectSchema.set_extra_fields uses to let transfer adapters accept
// adapter-specific parameters (e.g. "x-filename") without polluting the
// core schema.
type Object struct {
	OID   string            `json:"oid" validate:"required"`
	Size  int64             `json:"size" validate:"min=0"`
	Extra map[string]string `json:"-"`
}

// UnmarshalJSON splits "x-*" fields into Extra the way
// ObjectSchema.set_extra_fields does, before the rest is validated as the
// plain oid/size fields.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := make(map[string]string)
	rest := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, "x-") {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				extra[strings.TrimPrefix(k, "x-")] = s
			}
			continue
		}
		rest[k] = v
	}

	type plain Object
	var p plain
	restBytes, err := json.Marshal(rest)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(restBytes, &p); err != nil {
		return err
	}
	*o = Object(p)
	o.Extra = extra
	return nil
}

// Operation is the batch request's "operation" field.
type Operation string

const (
	OperationUpload   Operation = "upload"
	OperationDownload Operation = "download"
)

// Request is the full JSON-LFS batch request body.
type Request struct {
	Operation Operation `json:"operation" validate:"required,oneof=upload download"`
	Transfers []string  `json:"transfers,omitempty"`
	Ref       *Ref      `json:"ref,omitempty"`
	Objects   []Object  `json:"objects" validate:"required,min=1,dive"`
}

// ParseRequest decodes and validates a batch request body, defaulting
// Transfers to ["basic"] when omitted, matching BatchRequest's
// load_default.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, err
	}
	if len(req.Transfers) == 0 {
		req.Transfers = []string{"basic"}
	}
	if err := validate.Struct(req); err != nil {
		return Request{}, err
	}
	return req, nil
}
