package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func richDoc() Document {
	doc := scenarioDoc()
	doc.Invoices = []Invoice{{
		ID: 1, Number: "FA24-10001", Date: "2024-01-31", ClientID: 1, MissionID: ptr(1),
		Quantity: 20, Amount: 10000, VATRate: 20, Status: InvoicePaid, PaidDate: ptr("2024-02-05"),
		InvoiceTemplate: TemplateStandard,
	}}
	doc.Operations = []Operation{{ID: 1, Type: OpPayment, Date: "2024-02-05", Amount: 12000, Note: "FA24-10001"}}
	doc.Company = CompanyProfile{Name: "Me", TVAID: "FR00"}
	doc.Normalize()
	return doc
}

func TestExportImportReplaceRoundTrip(t *testing.T) {
	doc := richDoc()
	env := Export(doc, fixedNow)
	assert.Equal(t, ExportVersion, env.Version)
	assert.NotEmpty(t, env.ExportDate)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)

	got, err := Import(EmptyDocument(), parsed.Data, ImportReplace)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestParseEnvelopeRejectsMissingData(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"version":"1.0"}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
	_, err = ParseEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestImportDefaultsMissingCollections(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"clients":[],"missions":[],"invoices":[]}}`), &env))
	got, err := Import(EmptyDocument(), env.Data, ImportReplace)
	require.NoError(t, err)
	assert.NotNil(t, got.CRAs)
	assert.NotNil(t, got.Operations)
}

func TestImportMergeRenumbers(t *testing.T) {
	current := richDoc()
	incoming := EmptyDocument()
	incoming.Clients = []Client{{ID: 1, Company: "Other", SIREN: "111111111"}}
	incoming.Missions = []Mission{{ID: 1, ClientID: 1, DailyRate: 300}}
	incoming.Invoices = []Invoice{{ID: 1, ClientID: 1, MissionID: ptr(1), Quantity: 1, Status: InvoiceDraft}}
	incoming.CRAs = []CRA{{ID: 1, Month: "2024-04", WorkingDaysInMonth: 21, MissionID: 1, DaysWorked: 3}}
	incoming.Operations = []Operation{{ID: 1, Type: OpTax, Date: "2024-04-01", Amount: 50}}

	merged, err := Import(current, incoming, ImportMerge)
	require.NoError(t, err)

	require.Len(t, merged.Clients, 2)
	assert.Equal(t, 2, merged.Clients[1].ID)
	assert.Equal(t, ClientActive, merged.Clients[1].Status)

	require.Len(t, merged.Missions, 2)
	assert.Equal(t, 2, merged.Missions[1].ID)
	assert.Equal(t, 2, merged.Missions[1].ClientID)

	assert.Equal(t, 2, merged.Invoices[1].ID)
	assert.Equal(t, 2, merged.Invoices[1].ClientID)
	assert.Equal(t, 2, *merged.Invoices[1].MissionID)

	assert.Equal(t, 2, merged.CRAs[1].ID)
	assert.Equal(t, 2, merged.CRAs[1].MissionID)
	assert.Equal(t, 2, merged.Operations[1].ID)

	assert.True(t, Validate(merged).Valid)
	assert.Len(t, current.Clients, 1, "current must not be mutated")
}

func TestImportUnknownMode(t *testing.T) {
	_, err := Import(EmptyDocument(), EmptyDocument(), "append")
	assert.Error(t, err)
}
