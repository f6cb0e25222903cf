package model

// Field names a timestamp sub-field a source may populate.
type Field string

const (
	FieldETARegistered Field = "eta.registered"
	FieldETAEstimated  Field = "eta.estimated"
	FieldATA           Field = "eta.occurred"
	FieldETBRegistered Field = "etb.registered"
	FieldETBEstimated  Field = "etb.estimated"
	FieldATB           Field = "etb.occurred"
	FieldETDRegistered Field = "etd.registered"
	FieldETDEstimated  Field = "etd.estimated"
	FieldATD           Field = "etd.occurred"
	FieldCargoOpsEnd   Field = "cargo_ops_end"
)

var fieldPermissions = map[Category]map[Field]bool{
	SourceExpected: {
		FieldETARegistered: true,
		FieldETAEstimated:  true,
		FieldETBEstimated:  true,
		FieldETDEstimated:  true,
	},
	SourceScheduled: {
		FieldETBRegistered: true,
		FieldETBEstimated:  true,
		FieldETDRegistered: true,
		FieldETDEstimated:  true,
	},
	SourceAnchored: {
		FieldATA:          true,
		FieldETBEstimated: true,
	},
	SourceBerthed: {
		FieldATA:          true,
		FieldATB:          true,
		FieldATD:          true,
		FieldCargoOpsEnd:  true,
		FieldETDEstimated: true,
	},
}

var statusPermissions = map[Category]map[Status]bool{
	SourceExpected: {
		StatusPlanned:            true,
		StatusEstimatedConfirmed: true,
		StatusDelayed:            true,
		StatusCancelled:          true,
	},
	SourceScheduled: {
		StatusPlanned:            true,
		StatusEstimatedConfirmed: true,
		StatusDelayed:            true,
		StatusCancelled:          true,
	},
	SourceAnchored: {
		StatusArrived: true,
		StatusDelayed: true,
	},
}

// Permits reports whether records of category c may populate f.
func (c Category) Permits(f Field) bool {
	return fieldPermissions[c][f]
}

// PermitsStatus reports whether records of category c may report s. The
// authoritative-actual source may report any status.
func (c Category) PermitsStatus(s Status) bool {
	if c.AuthoritativeActual() {
		return true
	}
	return statusPermissions[c][s]
}
