package core

import "time"

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptr[T any](v T) *T { return &v }

// scenarioDoc holds client C1 with mission M1 and a January CRA.
func scenarioDoc() Document {
	doc := EmptyDocument()
	doc.Clients = []Client{{ID: 1, Company: "C1", SIREN: "123456789", Status: ClientActive}}
	doc.Missions = []Mission{{
		ID: 1, Title: "M1", ClientID: 1, DailyRate: 500, VATRate: ptr(20.0),
		StartDate: "2024-01-01", EndDate: "2024-01-31", Status: MissionActive,
	}}
	doc.CRAs = []CRA{{ID: 1, Month: "2024-01", WorkingDaysInMonth: 22, MissionID: 1, DaysWorked: 20}}
	return doc
}
