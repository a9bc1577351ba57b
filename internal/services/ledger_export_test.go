package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freelance-erp/internal/core"
	"freelance-erp/internal/sheets/memory"
	"freelance-erp/internal/storage"
)

func TestLedgerExporter_ClearsYearsWithoutOperations(t *testing.T) {
	old := core.Operation{ID: 1, Type: core.OpTax, Date: "2023-05-01", Amount: -100, Note: "old"}
	current := core.Operation{ID: 2, Type: core.OpSalary, Date: "2024-02-01", Amount: -2000, Note: "feb"}

	cases := []struct {
		name     string
		before   []core.Operation
		after    []core.Operation
		sheets   int
		rows2023 int
		rows2024 int
	}{
		{
			name:     "last operation of a year deleted",
			before:   []core.Operation{old, current},
			after:    []core.Operation{current},
			sheets:   2,
			rows2023: 0,
			rows2024: 1,
		},
		{
			name:     "every operation deleted",
			before:   []core.Operation{old, current},
			after:    []core.Operation{},
			sheets:   2,
			rows2023: 0,
			rows2024: 0,
		},
		{
			name:     "nothing deleted",
			before:   []core.Operation{old, current},
			after:    []core.Operation{old, current},
			sheets:   2,
			rows2023: 1,
			rows2024: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := storage.NewMemoryRepository(clock)
			writer := memory.New("Ledger")
			exporter := NewLedgerExporter(repo, writer)
			exporter.now = clock

			doc := core.EmptyDocument()
			doc.Operations = tc.before
			_, err := repo.PutDocument(ctx, "key-a", doc)
			require.NoError(t, err)
			_, err = exporter.ExportTenant(ctx, "key-a")
			require.NoError(t, err)
			require.Len(t, writer.Rows("key-a", 2023), 1)

			doc.Operations = tc.after
			_, err = repo.PutDocument(ctx, "key-a", doc)
			require.NoError(t, err)
			n, err := exporter.ExportTenant(ctx, "key-a")
			require.NoError(t, err)

			assert.Equal(t, tc.sheets, n)
			assert.Len(t, writer.Rows("key-a", 2023), tc.rows2023)
			assert.Len(t, writer.Rows("key-a", 2024), tc.rows2024)
		})
	}
}

func TestLedgerExporter_OtherTenantSheetsUntouched(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository(clock)
	writer := memory.New("Ledger")
	exporter := NewLedgerExporter(repo, writer)
	exporter.now = clock

	doc := core.EmptyDocument()
	doc.Operations = []core.Operation{{ID: 1, Type: core.OpTax, Date: "2022-03-01", Amount: -10}}
	_, err := repo.PutDocument(ctx, "key-b", doc)
	require.NoError(t, err)
	_, err = exporter.ExportTenant(ctx, "key-b")
	require.NoError(t, err)

	n, err := exporter.ExportTenant(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "key-a only gets the current year")
	assert.Len(t, writer.Rows("key-b", 2022), 1)
}
