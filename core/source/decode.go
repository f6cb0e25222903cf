// Package source models the raw record shape of every source category and
// turns raw records into merge partials.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"berthing-hub/core/model"
)

var (
	ErrUnknownSource = errors.New("unknown source category")
	ErrUnknownField  = errors.New("malformed field")
)

// Batch is one delivery of raw records from a single source category.
type Batch struct {
	Source     string           `json:"source"`
	ObservedAt time.Time        `json:"observed_at"`
	Records    []map[string]any `json:"records"`
}

// Category resolves the batch label, accepting English aliases.
func (b Batch) Category() (model.Category, error) {
	c, ok := model.ParseCategory(b.Source)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, b.Source)
	}
	return c, nil
}

type field string

const (
	fIMO           field = "imo"
	fVesselName    field = "vessel_name"
	fVoyageIn      field = "voyage_in"
	fVoyageOut     field = "voyage_out"
	fTerminal      field = "terminal"
	fBerth         field = "berth"
	fAgency        field = "agency"
	fOperationType field = "operation_type"
	fObservations  field = "observations"
	fIncidents     field = "incidents"
	fPriority      field = "priority"
	fStatus        field = "status"
	fETARegistered field = "eta_registered"
	fETAEstimated  field = "eta_estimated"
	fETBRegistered field = "etb_registered"
	fETBEstimated  field = "etb_estimated"
	fETDRegistered field = "etd_registered"
	fETDEstimated  field = "etd_estimated"
	fATA           field = "ata"
	fATB           field = "atb"
	fATD           field = "atd"
	fCargoOpsEnd   field = "cargo_ops_end"
	fManoeuvre     field = "manoeuvre"
	fExecutedAt    field = "executed_at"
)

// Column names seen across the public pages, in Portuguese and English.
var aliases = map[field][]string{
	fIMO:           {"imo", "numero_imo", "imo_number"},
	fVesselName:    {"vessel_name", "vessel", "navio", "nome_navio", "identificador_navio", "embarcacao"},
	fVoyageIn:      {"voyage_in", "voyage", "viagem", "viagem_entrada"},
	fVoyageOut:     {"voyage_out", "viagem_saida"},
	fTerminal:      {"terminal", "nome_terminal"},
	fBerth:         {"berth", "berth_id", "berco"},
	fAgency:        {"agency", "agencia", "agencia_maritima", "nome_agencia"},
	fOperationType: {"operation_type", "operacao", "tipo_operacao"},
	fObservations:  {"observations", "observacoes", "obs"},
	fIncidents:     {"incidents", "intercorrencias", "motivo_intercorrencia"},
	fPriority:      {"priority", "priority_class", "prioridade", "prioridade_rap"},
	fStatus:        {"status", "status_operacao", "situacao"},
	fETARegistered: {"eta_registered", "eta_registrado", "data_solicitacao"},
	fETAEstimated:  {"eta_estimated", "eta", "eta_estimado", "chegada_prevista"},
	fETBRegistered: {"etb_registered", "etb_registrado"},
	fETBEstimated:  {"etb_estimated", "etb", "etb_estimado", "data_prevista_atracacao"},
	fETDRegistered: {"etd_registered", "etd_registrado"},
	fETDEstimated:  {"etd_estimated", "etd", "etd_estimado", "data_prevista_desatracacao"},
	fATA:           {"ata", "ata_occurred", "chegada", "data_chegada", "fundeio", "data_fundeio"},
	fATB:           {"atb", "atb_occurred", "atracacao", "data_real_atracacao"},
	fATD:           {"atd", "atd_occurred", "desatracacao", "data_real_desatracacao"},
	fCargoOpsEnd:   {"cargo_ops_end", "fim_operacao", "termino_operacao"},
	fManoeuvre:     {"manoeuvre", "maneuver", "manobra", "manobra_tipo"},
	fExecutedAt:    {"executed_at", "data_execucao"},
}

var columns = func() map[string]field {
	out := make(map[string]field)
	for f, names := range aliases {
		for _, n := range names {
			out[foldColumn(n)] = f
		}
	}
	return out
}()

// foldColumn lets snake_case, camelCase and spaced headers meet:
// "dataPrevistaAtracacao", "data_prevista_atracacao" and
// "Data Prevista Atracacao" fold to the same key.
func foldColumn(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// columnsOf maps known columns of raw onto their canonical field. Unknown
// columns are ignored; pages carry plenty of display-only columns.
func columnsOf(raw map[string]any) (map[field]string, error) {
	out := make(map[field]string, len(raw))
	for k, v := range raw {
		f, ok := columns[foldColumn(k)]
		if !ok {
			continue
		}
		s, err := scalar(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownField, k, err)
		}
		if s == "" {
			continue
		}
		if prev, dup := out[f]; dup && prev != s {
			return nil, fmt.Errorf("%w: %s given twice with different values", ErrUnknownField, f)
		}
		out[f] = s
	}
	return out, nil
}

func scalar(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Decode shapes raw into the record type of cat.
func Decode(cat model.Category, raw map[string]any) (Record, error) {
	cols, err := columnsOf(raw)
	if err != nil {
		return nil, err
	}
	v := vesselFrom(cols)
	switch cat {
	case model.SourceExpected:
		return Expected{
			Vessel:        v,
			ETARegistered: cols[fETARegistered],
			ETAEstimated:  cols[fETAEstimated],
			ETBEstimated:  cols[fETBEstimated],
			ETDEstimated:  cols[fETDEstimated],
		}, nil
	case model.SourceScheduled:
		return Scheduled{
			Vessel:        v,
			ETBRegistered: cols[fETBRegistered],
			ETBEstimated:  cols[fETBEstimated],
			ETDRegistered: cols[fETDRegistered],
			ETDEstimated:  cols[fETDEstimated],
		}, nil
	case model.SourceAnchored:
		return Anchored{
			Vessel:       v,
			ATA:          cols[fATA],
			ETBEstimated: cols[fETBEstimated],
			Manoeuvre:    Manoeuvre{Kind: cols[fManoeuvre], ExecutedAt: cols[fExecutedAt]},
		}, nil
	case model.SourceBerthed:
		return Berthed{
			Vessel:       v,
			ATA:          cols[fATA],
			ATB:          cols[fATB],
			ATD:          cols[fATD],
			CargoOpsEnd:  cols[fCargoOpsEnd],
			ETDEstimated: cols[fETDEstimated],
			Manoeuvre:    Manoeuvre{Kind: cols[fManoeuvre], ExecutedAt: cols[fExecutedAt]},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cat)
	}
}

func vesselFrom(cols map[field]string) Vessel {
	return Vessel{
		IMO:           cols[fIMO],
		Name:          cols[fVesselName],
		VoyageIn:      cols[fVoyageIn],
		VoyageOut:     cols[fVoyageOut],
		Terminal:      cols[fTerminal],
		Berth:         cols[fBerth],
		Agency:        cols[fAgency],
		OperationType: cols[fOperationType],
		Observations:  cols[fObservations],
		Incidents:     cols[fIncidents],
		Priority:      cols[fPriority],
		Status:        cols[fStatus],
	}
}
