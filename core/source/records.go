package source

import (
	"fmt"
	"strings"
	"time"

	"berthing-hub/core/identity"
	"berthing-hub/core/merge"
	"berthing-hub/core/model"
	"berthing-hub/core/timenorm"
)

// Vessel holds the identity and metadata columns every category carries.
type Vessel struct {
	IMO           string `json:"imo,omitempty"`
	Name          string `json:"vessel_name,omitempty"`
	VoyageIn      string `json:"voyage_in,omitempty"`
	VoyageOut     string `json:"voyage_out,omitempty"`
	Terminal      string `json:"terminal,omitempty"`
	Berth         string `json:"berth,omitempty"`
	Agency        string `json:"agency,omitempty"`
	OperationType string `json:"operation_type,omitempty"`
	Observations  string `json:"observations,omitempty"`
	Incidents     string `json:"incidents,omitempty"`
	Priority      string `json:"priority,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Manoeuvre is a pilotage entry: "entrada" (inbound) or "saida" (outbound)
// executed at a civil time.
type Manoeuvre struct {
	Kind       string `json:"kind,omitempty"`
	ExecutedAt string `json:"executed_at,omitempty"`
}

const (
	ManoeuvreInbound  = "entrada"
	ManoeuvreOutbound = "saida"
)

// Record is a decoded raw record of one category. Each category only
// carries the timestamp columns it is allowed to report.
type Record interface {
	Category() model.Category
	Identity() Vessel
	// civil returns the raw timestamp columns keyed by target field.
	civil() (map[model.Field]string, error)
}

// Expected is a row of the expected-arrivals list.
type Expected struct {
	Vessel
	ETARegistered string `json:"eta_registered,omitempty"`
	ETAEstimated  string `json:"eta_estimated,omitempty"`
	ETBEstimated  string `json:"etb_estimated,omitempty"`
	ETDEstimated  string `json:"etd_estimated,omitempty"`
}

func (Expected) Category() model.Category { return model.SourceExpected }
func (r Expected) Identity() Vessel       { return r.Vessel }
func (r Expected) civil() (map[model.Field]string, error) {
	return map[model.Field]string{
		model.FieldETARegistered: r.ETARegistered,
		model.FieldETAEstimated:  r.ETAEstimated,
		model.FieldETBEstimated:  r.ETBEstimated,
		model.FieldETDEstimated:  r.ETDEstimated,
	}, nil
}

// Scheduled is a row of the scheduled-manoeuvres list.
type Scheduled struct {
	Vessel
	ETBRegistered string `json:"etb_registered,omitempty"`
	ETBEstimated  string `json:"etb_estimated,omitempty"`
	ETDRegistered string `json:"etd_registered,omitempty"`
	ETDEstimated  string `json:"etd_estimated,omitempty"`
}

func (Scheduled) Category() model.Category { return model.SourceScheduled }
func (r Scheduled) Identity() Vessel       { return r.Vessel }
func (r Scheduled) civil() (map[model.Field]string, error) {
	return map[model.Field]string{
		model.FieldETBRegistered: r.ETBRegistered,
		model.FieldETBEstimated:  r.ETBEstimated,
		model.FieldETDRegistered: r.ETDRegistered,
		model.FieldETDEstimated:  r.ETDEstimated,
	}, nil
}

// Anchored is a row of the anchorage list.
type Anchored struct {
	Vessel
	ATA          string    `json:"ata,omitempty"`
	ETBEstimated string    `json:"etb_estimated,omitempty"`
	Manoeuvre    Manoeuvre `json:"manoeuvre"`
}

func (Anchored) Category() model.Category { return model.SourceAnchored }
func (r Anchored) Identity() Vessel       { return r.Vessel }
func (r Anchored) civil() (map[model.Field]string, error) {
	out := map[model.Field]string{
		model.FieldATA:          r.ATA,
		model.FieldETBEstimated: r.ETBEstimated,
	}
	// an outbound manoeuvre is only trusted from the berth list
	if err := r.Manoeuvre.fill(out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Berthed is a row of the berthed list, the authoritative source of
// actual event times.
type Berthed struct {
	Vessel
	ATA          string    `json:"ata,omitempty"`
	ATB          string    `json:"atb,omitempty"`
	ATD          string    `json:"atd,omitempty"`
	CargoOpsEnd  string    `json:"cargo_ops_end,omitempty"`
	ETDEstimated string    `json:"etd_estimated,omitempty"`
	Manoeuvre    Manoeuvre `json:"manoeuvre"`
}

func (Berthed) Category() model.Category { return model.SourceBerthed }
func (r Berthed) Identity() Vessel       { return r.Vessel }
func (r Berthed) civil() (map[model.Field]string, error) {
	out := map[model.Field]string{
		model.FieldATA:          r.ATA,
		model.FieldATB:          r.ATB,
		model.FieldATD:          r.ATD,
		model.FieldCargoOpsEnd:  r.CargoOpsEnd,
		model.FieldETDEstimated: r.ETDEstimated,
	}
	if err := r.Manoeuvre.fill(out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// fill maps the manoeuvre onto ATA or ATD unless the record already
// carries that column.
func (m Manoeuvre) fill(out map[model.Field]string, outbound bool) error {
	kind := strings.ToLower(strings.TrimSpace(m.Kind))
	if kind == "" || m.ExecutedAt == "" {
		return nil
	}
	var target model.Field
	switch kind {
	case ManoeuvreInbound, "inbound", "entry":
		target = model.FieldATA
	case ManoeuvreOutbound, "saída", "outbound", "exit":
		if !outbound {
			return nil
		}
		target = model.FieldATD
	default:
		return fmt.Errorf("%w: manoeuvre %q", ErrUnknownField, m.Kind)
	}
	if out[target] == "" {
		out[target] = m.ExecutedAt
	}
	return nil
}

// ToPartial normalizes r's timestamps with n and resolves its port call.
// Errors wrap timenorm.ErrInvalidTimestamp, identity.ErrAmbiguousIdentity
// or ErrUnknownField.
func ToPartial(r Record, n *timenorm.Normalizer, observedAt time.Time) (merge.Partial, error) {
	cat := r.Category()
	v := r.Identity()
	raw, err := r.civil()
	if err != nil {
		return merge.Partial{}, err
	}

	p := merge.Partial{
		Source:        cat,
		ObservedAt:    observedAt.UTC(),
		IMO:           v.IMO,
		VesselName:    v.Name,
		VoyageIn:      v.VoyageIn,
		VoyageOut:     v.VoyageOut,
		Terminal:      v.Terminal,
		BerthID:       v.Berth,
		OperationType: v.OperationType,
		Agency:        v.Agency,
		Observations:  v.Observations,
		Incidents:     v.Incidents,
		Status:        model.Status(v.Status),
	}
	if prio, ok := model.ParsePriority(v.Priority); ok {
		p.Priority = prio
	}

	// Registered values can be request dates days ahead of the visit, so
	// they anchor the name key only when nothing else is dated.
	var first, firstRegistered time.Time
	for f, s := range raw {
		t, ok, err := n.ParseOptional(cat, s)
		if err != nil {
			return merge.Partial{}, fmt.Errorf("%s: %w", f, err)
		}
		if !ok {
			continue
		}
		*slot(&p, f) = t
		anchor := &first
		if registered(f) {
			anchor = &firstRegistered
		}
		if anchor.IsZero() || t.Before(*anchor) {
			*anchor = t
		}
	}
	if first.IsZero() {
		first = firstRegistered
	}

	id, err := identity.Resolve(identity.Key{
		IMO:        v.IMO,
		VesselName: v.Name,
		Terminal:   v.Terminal,
		BerthID:    v.Berth,
		VoyageIn:   v.VoyageIn,
		FirstEvent: first,
		Loc:        n.Offset(cat),
	})
	if err != nil {
		return merge.Partial{}, err
	}
	p.PortCallID = id
	return p, nil
}

func slot(p *merge.Partial, f model.Field) *time.Time {
	switch f {
	case model.FieldETARegistered:
		return &p.ETA.Registered
	case model.FieldETAEstimated:
		return &p.ETA.Estimated
	case model.FieldATA:
		return &p.ETA.Occurred
	case model.FieldETBRegistered:
		return &p.ETB.Registered
	case model.FieldETBEstimated:
		return &p.ETB.Estimated
	case model.FieldATB:
		return &p.ETB.Occurred
	case model.FieldETDRegistered:
		return &p.ETD.Registered
	case model.FieldETDEstimated:
		return &p.ETD.Estimated
	case model.FieldATD:
		return &p.ETD.Occurred
	default:
		return &p.CargoOpsEnd
	}
}

func registered(f model.Field) bool {
	switch f {
	case model.FieldETARegistered, model.FieldETBRegistered, model.FieldETDRegistered:
		return true
	}
	return false
}
