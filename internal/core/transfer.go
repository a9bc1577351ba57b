package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ExportVersion tags every envelope written by Export.
const ExportVersion = "1.0"

// ImportMode selects how an imported document combines with the current one.
type ImportMode string

const (
	ImportReplace ImportMode = "replace"
	ImportMerge   ImportMode = "merge"
)

var ErrInvalidEnvelope = errors.New("invalid export envelope")

func (m ImportMode) Valid() bool {
	return m == ImportReplace || m == ImportMerge
}

// Envelope wraps a document for export.
type Envelope struct {
	ExportDate string   `json:"exportDate"`
	Version    string   `json:"version"`
	Data       Document `json:"data"`
}

// Export wraps a copy of doc with the export timestamp.
func Export(doc Document, now time.Time) Envelope {
	return Envelope{
		ExportDate: now.UTC().Format(time.RFC3339Nano),
		Version:    ExportVersion,
		Data:       doc.Clone(),
	}
}

// ParseEnvelope decodes an export file. A file without a data object is rejected.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var head struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(head.Data) == 0 || string(head.Data) == "null" {
		return Envelope{}, fmt.Errorf("%w: missing data", ErrInvalidEnvelope)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, nil
}

// Import combines an imported document with current. Missing collections
// default to empty. Replace returns the imported document. Merge appends
// every imported record with ids renumbered after the current maximum of
// its collection; references inside the import follow the renumbering.
// The result is not validated here.
func Import(current, imported Document, mode ImportMode) (Document, error) {
	in := imported.Clone()
	in.Normalize()

	switch mode {
	case ImportReplace:
		return in, nil
	case ImportMerge:
		return merge(current.Clone(), in), nil
	}
	return Document{}, fmt.Errorf("unknown import mode %q", mode)
}

func merge(out, in Document) Document {
	out.Normalize()

	clientBase := maxID(out.Clients, clientKey)
	missionBase := maxID(out.Missions, missionKey)
	invoiceBase := maxID(out.Invoices, invoiceKey)
	craBase := maxID(out.CRAs, craKey)
	opBase := maxID(out.Operations, operationKey)

	clientIDs := make(map[int]int, len(in.Clients))
	for i, c := range in.Clients {
		id := clientBase + i + 1
		if _, ok := clientIDs[c.ID]; !ok && c.ID != 0 {
			clientIDs[c.ID] = id
		}
		c.ID = id
		if c.Status == "" {
			c.Status = ClientActive
		}
		out.Clients = append(out.Clients, c)
	}

	missionIDs := make(map[int]int, len(in.Missions))
	for i, m := range in.Missions {
		id := missionBase + i + 1
		if _, ok := missionIDs[m.ID]; !ok && m.ID != 0 {
			missionIDs[m.ID] = id
		}
		m.ID = id
		m.ClientID = remap(clientIDs, m.ClientID)
		out.Missions = append(out.Missions, m)
	}

	for i, inv := range in.Invoices {
		inv.ID = invoiceBase + i + 1
		inv.ClientID = remap(clientIDs, inv.ClientID)
		if inv.MissionID != nil {
			id := remap(missionIDs, *inv.MissionID)
			inv.MissionID = &id
		}
		out.Invoices = append(out.Invoices, inv)
	}

	for i, c := range in.CRAs {
		c.ID = craBase + i + 1
		c.MissionID = remap(missionIDs, c.MissionID)
		out.CRAs = append(out.CRAs, c)
	}

	for i, o := range in.Operations {
		o.ID = opBase + i + 1
		out.Operations = append(out.Operations, o)
	}
	return out
}

// remap leaves ids that point outside the import untouched so they keep
// referring to existing records.
func remap(ids map[int]int, id int) int {
	if n, ok := ids[id]; ok {
		return n
	}
	return id
}
