package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Result is the outcome of a validation pass. Errors lists every violation found.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func newResult(errs []string) Result {
	if errs == nil {
		errs = []string{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// Validate checks duplicate ids and cross-entity references of a document.
// Every violation is reported; the scan never stops at the first one.
func Validate(doc Document) Result {
	var errs []string

	errs = appendDuplicates(errs, "client", ids(doc.Clients, func(c Client) int { return c.ID }))
	errs = appendDuplicates(errs, "mission", ids(doc.Missions, func(m Mission) int { return m.ID }))
	errs = appendDuplicates(errs, "invoice", ids(doc.Invoices, func(i Invoice) int { return i.ID }))
	errs = appendDuplicates(errs, "CRA", ids(doc.CRAs, func(c CRA) int { return c.ID }))

	clientIDs := idSet(doc.Clients, func(c Client) int { return c.ID })
	missionIDs := idSet(doc.Missions, func(m Mission) int { return m.ID })

	for _, m := range doc.Missions {
		switch {
		case m.ClientID == 0:
			errs = append(errs, fmt.Sprintf("Mission %s missing clientId", label(m.ID)))
		case !clientIDs[m.ClientID]:
			errs = append(errs, fmt.Sprintf("Mission %s references unknown clientId %d", label(m.ID), m.ClientID))
		}
	}

	for _, inv := range doc.Invoices {
		switch {
		case inv.ClientID == 0:
			errs = append(errs, fmt.Sprintf("Invoice %s missing clientId", label(inv.ID)))
		case !clientIDs[inv.ClientID]:
			errs = append(errs, fmt.Sprintf("Invoice %s references unknown clientId %d", label(inv.ID), inv.ClientID))
		}
		if inv.MissionID != nil && !missionIDs[*inv.MissionID] {
			errs = append(errs, fmt.Sprintf("Invoice %s references unknown missionId %d", label(inv.ID), *inv.MissionID))
		}
	}

	for _, c := range doc.CRAs {
		switch {
		case c.MissionID == 0:
			errs = append(errs, fmt.Sprintf("CRA %s missing missionId", label(c.ID)))
		case !missionIDs[c.MissionID]:
			errs = append(errs, fmt.Sprintf("CRA %s references unknown missionId %d", label(c.ID), c.MissionID))
		}
	}

	return newResult(errs)
}

// appendDuplicates reports each duplicated id once, in first-seen order.
func appendDuplicates(errs []string, entity string, all []int) []string {
	seen := make(map[int]bool, len(all))
	reported := make(map[int]bool)
	var dupes []string
	for _, id := range all {
		if id == 0 {
			continue
		}
		if seen[id] && !reported[id] {
			reported[id] = true
			dupes = append(dupes, strconv.Itoa(id))
		}
		seen[id] = true
	}
	if len(dupes) == 0 {
		return errs
	}
	return append(errs, fmt.Sprintf("Duplicate %s ids: %s", entity, strings.Join(dupes, ", ")))
}

func ids[T any](items []T, id func(T) int) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func idSet[T any](items []T, id func(T) int) map[int]bool {
	set := make(map[int]bool, len(items))
	for _, it := range items {
		if v := id(it); v != 0 {
			set[v] = true
		}
	}
	return set
}

func maxID[T any](items []T, id func(T) int) int {
	highest := 0
	for _, it := range items {
		if v := id(it); v > highest {
			highest = v
		}
	}
	return highest
}

func label(id int) string {
	if id == 0 {
		return "<no-id>"
	}
	return strconv.Itoa(id)
}
