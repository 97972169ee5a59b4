// Package eval ejecuta un RuleModel contra los datasets de una entrega y
// produce el resultado por regla más los contadores de severidad.
package eval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davicafu/casillero/internal/rules/domain"
)

// ctxCheckInterval controla cada cuántas filas se comprueba la cancelación.
// Comprobar cada fila sería caro; cada 512 mantiene la latencia de cancelación
// por debajo del milisegundo en ficheros grandes.
const ctxCheckInterval = 512

// DefaultSampleLimit acota las filas de ejemplo por regla fallida.
const DefaultSampleLimit = 25

// Options ajusta la evaluación.
type Options struct {
	SampleLimit int
}

func (o Options) sampleLimit() int {
	if o.SampleLimit > 0 {
		return o.SampleLimit
	}
	return DefaultSampleLimit
}

// RuleOutcome es el resultado de una regla concreta.
type RuleOutcome struct {
	Rule        string          `json:"rule"`
	Catalog     string          `json:"catalog,omitempty"`
	Scope       string          `json:"scope"` // field | row | catalog | package
	Severity    domain.Severity `json:"severity"`
	Passed      bool            `json:"passed"`
	FailingRows int             `json:"failing_rows,omitempty"`
	SampleRows  []int           `json:"sample_rows,omitempty"` // filas de datos, 1-based
	Detail      string          `json:"detail,omitempty"`
}

// Result agrega los resultados de todas las reglas de una evaluación.
// ErrorCount y WarningCount cuentan reglas fallidas, no filas: las filas que
// incumplen quedan dentro de cada RuleOutcome (muestra capada).
type Result struct {
	Outcomes     []RuleOutcome `json:"outcomes"`
	ErrorCount   int           `json:"error_count"`
	WarningCount int           `json:"warning_count"`
}

func (r *Result) add(out RuleOutcome) {
	r.Outcomes = append(r.Outcomes, out)
	if !out.Passed {
		switch out.Severity {
		case domain.SeverityError:
			r.ErrorCount++
		case domain.SeverityWarning:
			r.WarningCount++
		}
	}
}

// Evaluate ejecuta el modelo completo contra la entrega. Devuelve error solo
// cuando la evaluación no puede completarse (catálogo ausente, esquema roto,
// contexto cancelado); en ese caso la Execution resultante será Failed.
func Evaluate(ctx context.Context, set *CatalogSet, model *domain.RuleModel, opts Options) (*Result, error) {
	result := &Result{}

	names := model.CatalogNames()
	sort.Strings(names) // orden determinista de outcomes

	for _, name := range names {
		cat := model.Catalogs[name]
		ds := set.Get(name)
		if ds == nil {
			// Un catálogo no entregado solo bloquea si algún paquete lo exige;
			// suelto, simplemente no hay nada que validar.
			if requiredByPackage(model, name) {
				return nil, newDataError(name, "catalog required by a package but missing from the delivery")
			}
			continue
		}
		if err := evalCatalog(ctx, ds, cat, opts, result); err != nil {
			return nil, err
		}
	}

	pkgNames := make([]string, 0, len(model.Packages))
	for name := range model.Packages {
		pkgNames = append(pkgNames, name)
	}
	sort.Strings(pkgNames)
	for _, name := range pkgNames {
		if err := evalPackage(ctx, set, model, model.Packages[name], opts, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func requiredByPackage(model *domain.RuleModel, catalog string) bool {
	for _, pkg := range model.Packages {
		for _, member := range pkg.Catalogs {
			if member == catalog {
				return true
			}
		}
	}
	return false
}

// ---------------- Ámbitos campo / fila / catálogo ----------------

func evalCatalog(ctx context.Context, ds *Dataset, cat *domain.Catalog, opts Options, result *Result) error {
	for i := range cat.Fields {
		f := &cat.Fields[i]
		col := ds.ColumnIndex(f.Name)
		if col < 0 {
			return newDataError(cat.Name, "declared field %q missing from dataset", f.Name)
		}

		// Flags required/unique se evalúan como reglas implícitas de severidad
		// error, con nombre derivado del campo.
		if f.Required {
			out, err := evalRequired(ctx, ds, cat, f, col, opts)
			if err != nil {
				return err
			}
			result.add(out)
		}
		if f.Unique {
			out, err := evalUnique(ctx, ds, cat, f, col, opts)
			if err != nil {
				return err
			}
			result.add(out)
		}

		for j := range f.Rules {
			rule := &f.Rules[j]
			out, err := evalFieldRule(ctx, ds, cat, f, col, rule, opts)
			if err != nil {
				return err
			}
			result.add(out)
		}
	}

	for i := range cat.RowRules {
		rule := &cat.RowRules[i]
		out, err := evalRowRule(ctx, ds, cat, rule, opts)
		if err != nil {
			return err
		}
		result.add(out)
	}

	for i := range cat.CatalogRules {
		rule := &cat.CatalogRules[i]
		out, err := evalCatalogRule(ds, cat, rule)
		if err != nil {
			return err
		}
		result.add(out)
	}

	return nil
}

func evalRequired(ctx context.Context, ds *Dataset, cat *domain.Catalog, f *domain.Field, col int, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{
		Rule: f.Name + "_required", Catalog: cat.Name, Scope: "field",
		Severity: domain.SeverityError, Passed: true,
	}
	for row := range ds.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		if ds.Cell(row, col) == "" {
			failRow(&out, row, opts)
		}
	}
	finish(&out, "empty values in required field "+f.Name)
	return out, nil
}

func evalUnique(ctx context.Context, ds *Dataset, cat *domain.Catalog, f *domain.Field, col int, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{
		Rule: f.Name + "_unique", Catalog: cat.Name, Scope: "field",
		Severity: domain.SeverityError, Passed: true,
	}
	seen := make(map[string]bool, len(ds.Rows))
	for row := range ds.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		v := ds.Cell(row, col)
		if v == "" {
			continue
		}
		if seen[v] {
			failRow(&out, row, opts)
		}
		seen[v] = true
	}
	finish(&out, "repeated values in unique field "+f.Name)
	return out, nil
}

func evalFieldRule(ctx context.Context, ds *Dataset, cat *domain.Catalog, f *domain.Field, col int, rule *domain.FieldRule, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{
		Rule: rule.Name, Catalog: cat.Name, Scope: "field",
		Severity: rule.Severity, Passed: true,
	}

	var re *regexp.Regexp
	if rule.Check.Kind == domain.CheckRegex {
		re = regexp.MustCompile(rule.Check.Pattern) // validado en carga
	}
	inSet := make(map[string]bool, len(rule.Check.Values))
	for _, v := range rule.Check.Values {
		inSet[v] = true
	}

	for row := range ds.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		cell := ds.Cell(row, col)
		if cell == "" {
			continue // la nulidad la vigila el flag required, no las reglas
		}

		ok := true
		switch rule.Check.Kind {
		case domain.CheckRegex:
			ok = re.MatchString(cell)
		case domain.CheckInSet:
			ok = inSet[cell]
		case domain.CheckRange:
			n, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				ok = false // celda no numérica bajo regla numérica: incumple
			} else {
				if rule.Check.Min != nil && n < *rule.Check.Min {
					ok = false
				}
				if rule.Check.Max != nil && n > *rule.Check.Max {
					ok = false
				}
			}
		case domain.CheckComparison:
			left, err := parseValue(f, cell)
			if err != nil {
				ok = false
			} else {
				ok = compare(rule.Check.Op, left, literalValue(rule.Check.Right))
			}
		}
		if !ok {
			failRow(&out, row, opts)
		}
	}
	finish(&out, rule.Description)
	return out, nil
}

func evalRowRule(ctx context.Context, ds *Dataset, cat *domain.Catalog, rule *domain.RowRule, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{
		Rule: rule.Name, Catalog: cat.Name, Scope: "row",
		Severity: rule.Severity, Passed: true,
	}

	for row := range ds.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		left, leftOK, err := resolveOperand(ds, cat, rule.Check.Left, row)
		if err != nil {
			failRow(&out, row, opts)
			continue
		}
		right, rightOK, err := resolveOperand(ds, cat, rule.Check.Right, row)
		if err != nil {
			failRow(&out, row, opts)
			continue
		}
		if !leftOK || !rightOK {
			continue // celda vacía: la fila no participa (verdad vacua)
		}
		if !compare(rule.Check.Op, left, right) {
			failRow(&out, row, opts)
		}
	}
	finish(&out, rule.Description)
	return out, nil
}

func evalCatalogRule(ds *Dataset, cat *domain.Catalog, rule *domain.CatalogRule) (RuleOutcome, error) {
	out := RuleOutcome{
		Rule: rule.Name, Catalog: cat.Name, Scope: "catalog",
		Severity: rule.Severity, Passed: true,
	}

	// Dataset vacío: los agregados de conteo valen 0 y se comparan igual;
	// min/max/sum/avg sin datos pasan por verdad vacua.
	check := rule.Check
	agg, hasData := aggregate(ds, check.Func, check.Column)
	if !hasData && check.Func != domain.AggCount && check.Func != domain.AggCountDistinct {
		return out, nil
	}
	if !compareFloat(check.Op, agg, *check.Threshold) {
		out.Passed = false
		out.Detail = fmt.Sprintf("%s(%s)=%v violates %s %v", check.Func, check.Column, agg, check.Op, *check.Threshold)
	}
	return out, nil
}

// ---------------- Valores tipados ----------------

type value struct {
	num   float64
	isNum bool
	t     time.Time
	isT   bool
	s     string
}

func parseValue(f *domain.Field, cell string) (value, error) {
	switch f.Type {
	case domain.FieldInteger:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return value{}, fmt.Errorf("not an integer: %q", cell)
		}
		return value{num: float64(n), isNum: true, s: cell}, nil
	case domain.FieldDecimal:
		n, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return value{}, fmt.Errorf("not a decimal: %q", cell)
		}
		return value{num: n, isNum: true, s: cell}, nil
	case domain.FieldDate:
		t, err := time.Parse(f.Layout(), cell)
		if err != nil {
			return value{}, fmt.Errorf("not a date: %q", cell)
		}
		return value{t: t, isT: true, s: cell}, nil
	default:
		return value{s: cell}, nil
	}
}

func literalValue(op domain.Operand) value {
	if op.Number != nil {
		return value{num: *op.Number, isNum: true}
	}
	if op.Text != nil {
		return value{s: *op.Text}
	}
	return value{}
}

// resolveOperand devuelve el valor del operando en la fila. ok=false señala
// celda vacía (la fila se salta); error señala celda no parseable (incumple).
func resolveOperand(ds *Dataset, cat *domain.Catalog, op domain.Operand, row int) (value, bool, error) {
	if op.IsLiteral() {
		return literalValue(op), true, nil
	}
	col := ds.ColumnIndex(op.Column)
	if col < 0 {
		return value{}, false, fmt.Errorf("column %q missing", op.Column)
	}
	cell := ds.Cell(row, col)
	if cell == "" {
		return value{}, false, nil
	}
	f := cat.FieldByName(op.Column)
	v, err := parseValue(f, cell)
	if err != nil {
		return value{}, false, err
	}
	return v, true, nil
}

func compare(op domain.CompareOp, a, b value) bool {
	switch {
	case a.isNum && b.isNum:
		return compareFloat(op, a.num, b.num)
	case a.isT && b.isT:
		return compareFloat(op, float64(a.t.UnixNano()), float64(b.t.UnixNano()))
	default:
		return compareOrdered(op, strings.Compare(a.s, b.s))
	}
}

func compareFloat(op domain.CompareOp, a, b float64) bool {
	switch op {
	case domain.OpEq:
		return a == b
	case domain.OpNe:
		return a != b
	case domain.OpGt:
		return a > b
	case domain.OpGe:
		return a >= b
	case domain.OpLt:
		return a < b
	case domain.OpLe:
		return a <= b
	}
	return false
}

func compareOrdered(op domain.CompareOp, cmp int) bool {
	switch op {
	case domain.OpEq:
		return cmp == 0
	case domain.OpNe:
		return cmp != 0
	case domain.OpGt:
		return cmp > 0
	case domain.OpGe:
		return cmp >= 0
	case domain.OpLt:
		return cmp < 0
	case domain.OpLe:
		return cmp <= 0
	}
	return false
}

// ---------------- Agregados ----------------

func aggregate(ds *Dataset, fn domain.AggFunc, column string) (float64, bool) {
	if fn == domain.AggCount {
		return float64(len(ds.Rows)), true
	}

	col := ds.ColumnIndex(column)
	if col < 0 {
		return 0, false
	}

	if fn == domain.AggCountDistinct {
		distinct := make(map[string]bool)
		for row := range ds.Rows {
			if v := ds.Cell(row, col); v != "" {
				distinct[v] = true
			}
		}
		return float64(len(distinct)), true
	}

	var sum, min, max float64
	count := 0
	for row := range ds.Rows {
		cell := ds.Cell(row, col)
		if cell == "" {
			continue
		}
		n, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			continue // las celdas rotas las vigilan las reglas de campo
		}
		if count == 0 {
			min, max = n, n
		} else {
			if n < min {
				min = n
			}
			if n > max {
				max = n
			}
		}
		sum += n
		count++
	}
	if count == 0 {
		return 0, false
	}

	switch fn {
	case domain.AggMin:
		return min, true
	case domain.AggMax:
		return max, true
	case domain.AggSum:
		return sum, true
	case domain.AggAvg:
		return sum / float64(count), true
	}
	return 0, false
}

// ---------------- Helpers ----------------

func checkCtx(ctx context.Context, row int) error {
	if row%ctxCheckInterval != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func failRow(out *RuleOutcome, row int, opts Options) {
	out.Passed = false
	out.FailingRows++
	if len(out.SampleRows) < opts.sampleLimit() {
		out.SampleRows = append(out.SampleRows, row+1)
	}
}

func finish(out *RuleOutcome, detail string) {
	if !out.Passed && out.Detail == "" {
		out.Detail = detail
	}
}
