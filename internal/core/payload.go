package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema describes the collection shape of a persisted document.
// Entity fields are checked by Validate once the payload is decoded.
const documentSchema = `{
  "type": "object",
  "required": ["clients", "missions", "invoices", "cras"],
  "properties": {
    "clients":    {"type": "array", "items": {"type": "object"}},
    "missions":   {"type": "array", "items": {"type": "object"}},
    "invoices":   {"type": "array", "items": {"type": "object"}},
    "cras":       {"type": "array", "items": {"type": "object"}},
    "operations": {"type": ["array", "null"], "items": {"type": "object"}},
    "company":    {"type": ["object", "null"]}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// shapedCollections lists the collections whose array shape is mandatory, in report order.
var shapedCollections = []string{"clients", "missions", "invoices", "cras"}

// DecodePayload parses a raw document, reporting content violations and
// shape violations together. The returned document holds every collection
// that could be decoded and is normalized.
func DecodePayload(raw []byte) (Document, Result) {
	doc := EmptyDocument()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return doc, newResult([]string{"data must be an object"})
	}

	badShape := shapeErrors(raw)

	var decodeErrs []string
	decode := func(name string, dst any) {
		v, ok := fields[name]
		if !ok || badShape[name] || string(v) == "null" {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			decodeErrs = append(decodeErrs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	decode("clients", &doc.Clients)
	decode("missions", &doc.Missions)
	decode("invoices", &doc.Invoices)
	decode("cras", &doc.CRAs)
	decode("operations", &doc.Operations)
	decode("company", &doc.Company)
	doc.Normalize()

	errs := Validate(doc).Errors
	errs = append(errs, decodeErrs...)
	for _, name := range shapedCollections {
		if badShape[name] {
			errs = append(errs, name+" must be an array")
		}
	}
	if badShape["operations"] {
		errs = append(errs, "operations must be an array")
	}
	if badShape["company"] {
		errs = append(errs, "company must be an object")
	}
	return doc, newResult(errs)
}

// shapeErrors runs the document schema and returns the offending top-level fields.
func shapeErrors(raw []byte) map[string]bool {
	out := make(map[string]bool)
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return out
	}
	for _, e := range res.Errors() {
		field := e.Field()
		if e.Type() == "required" {
			if p, ok := e.Details()["property"].(string); ok {
				field = p
			}
		}
		// Item-level errors such as "clients.0" surface as decode errors instead.
		if strings.Contains(field, ".") {
			continue
		}
		out[field] = true
	}
	return out
}
