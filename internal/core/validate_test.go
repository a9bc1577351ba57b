package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCleanDocument(t *testing.T) {
	res := Validate(scenarioDoc())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateUnknownClient(t *testing.T) {
	doc := scenarioDoc()
	doc.Missions = append(doc.Missions, Mission{ID: 7, ClientID: 999})

	res := Validate(doc)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Mission 7")
	assert.Contains(t, res.Errors[0], "999")
}

func TestValidateReportsEverything(t *testing.T) {
	doc := scenarioDoc()
	doc.Clients = append(doc.Clients, Client{ID: 1}, Client{ID: 1}, Client{ID: 2}, Client{ID: 2})
	doc.Missions = append(doc.Missions, Mission{ID: 2})
	doc.Invoices = []Invoice{
		{ID: 1, ClientID: 5, MissionID: ptr(42)},
		{ID: 2, ClientID: 1},
	}
	doc.CRAs = append(doc.CRAs, CRA{ID: 2, MissionID: 77}, CRA{ID: 3})

	res := Validate(doc)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		"Duplicate client ids: 1, 2",
		"Mission 2 missing clientId",
		"Invoice 1 references unknown clientId 5",
		"Invoice 1 references unknown missionId 42",
		"CRA 2 references unknown missionId 77",
		"CRA 3 missing missionId",
	}, res.Errors)
}

func TestValidateNullMissionIsAllowed(t *testing.T) {
	doc := scenarioDoc()
	doc.Invoices = []Invoice{{ID: 1, ClientID: 1}}
	assert.True(t, Validate(doc).Valid)
}

func TestDecodePayload(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		valid   bool
		wantErr string
	}{
		{"empty collections", `{"clients":[],"missions":[],"invoices":[],"cras":[]}`, true, ""},
		{"null operations", `{"clients":[],"missions":[],"invoices":[],"cras":[],"operations":null}`, true, ""},
		{"not an object", `[1,2]`, false, "data must be an object"},
		{"clients not array", `{"clients":{},"missions":[],"invoices":[],"cras":[]}`, false, "clients must be an array"},
		{"cras missing", `{"clients":[],"missions":[],"invoices":[]}`, false, "cras must be an array"},
		{"bad reference", `{"clients":[],"missions":[{"id":3,"clientId":9}],"invoices":[],"cras":[]}`, false, "Mission 3 references unknown clientId 9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, res := DecodePayload([]byte(tc.raw))
			if res.Valid != tc.valid {
				t.Fatalf("valid = %v, want %v (errors %v)", res.Valid, tc.valid, res.Errors)
			}
			if tc.wantErr != "" && !strings.Contains(strings.Join(res.Errors, "\n"), tc.wantErr) {
				t.Fatalf("errors %v missing %q", res.Errors, tc.wantErr)
			}
		})
	}
}

func TestDecodePayloadShapeAndContentTogether(t *testing.T) {
	raw := `{"clients":"nope","missions":[{"id":1,"clientId":4}],"invoices":[],"cras":[]}`
	doc, res := DecodePayload([]byte(raw))

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "Mission 1 references unknown clientId 4")
	assert.Contains(t, res.Errors, "clients must be an array")
	assert.Len(t, doc.Missions, 1)
	assert.NotNil(t, doc.Clients)
}
