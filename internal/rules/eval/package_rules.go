package eval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/davicafu/casillero/internal/rules/domain"
)

// Las tres formas estructurales de regla de paquete son primitivas explícitas
// del evaluador: membership (integridad referencial), aggregate_compare
// (agregado agrupado contra columna consultada) y tolerance (igualdad numérica
// con epsilon). No se derivan de un lenguaje de expresiones general.

func evalPackage(ctx context.Context, set *CatalogSet, model *domain.RuleModel, pkg *domain.Package, opts Options, result *Result) error {
	// Si falta cualquier catálogo miembro la evaluación del paquete no puede
	// completarse.
	for _, member := range pkg.Catalogs {
		if set.Get(member) == nil {
			return newDataError(member, "catalog required by package %q missing from the delivery", pkg.Name)
		}
	}

	for i := range pkg.Rules {
		rule := &pkg.Rules[i]
		var out RuleOutcome
		var err error
		switch rule.Check.Kind {
		case domain.CheckMembership:
			out, err = evalMembership(ctx, set, rule, opts)
		case domain.CheckAggregateCompare:
			out, err = evalAggregateCompare(ctx, set, model, rule, opts)
		case domain.CheckTolerance:
			out, err = evalTolerance(ctx, set, model, rule, opts)
		}
		if err != nil {
			return err
		}
		out.Catalog = pkg.Name
		result.add(out)
	}
	return nil
}

// evalMembership: todo valor de source.column debe existir en target.column.
func evalMembership(ctx context.Context, set *CatalogSet, rule *domain.PackageRule, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{Rule: rule.Name, Scope: "package", Severity: rule.Severity, Passed: true}

	src := set.Get(rule.Check.Source.Catalog)
	tgt := set.Get(rule.Check.Target.Catalog)
	srcCol := src.ColumnIndex(rule.Check.Source.Column)
	tgtCol := tgt.ColumnIndex(rule.Check.Target.Column)
	if srcCol < 0 || tgtCol < 0 {
		return out, newDataError(rule.Check.Source.Catalog, "membership columns missing from delivered data")
	}

	known := make(map[string]bool, len(tgt.Rows))
	for row := range tgt.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		if v := tgt.Cell(row, tgtCol); v != "" {
			known[v] = true
		}
	}

	for row := range src.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		v := src.Cell(row, srcCol)
		if v == "" {
			continue
		}
		if !known[v] {
			failRow(&out, row, opts)
		}
	}
	finish(&out, fmt.Sprintf("values of %s.%s missing from %s.%s",
		rule.Check.Source.Catalog, rule.Check.Source.Column,
		rule.Check.Target.Catalog, rule.Check.Target.Column))
	return out, nil
}

// evalAggregateCompare: agregado de source.column agrupado por source.group_by
// comparado contra la columna del target buscada por target.key.
func evalAggregateCompare(ctx context.Context, set *CatalogSet, model *domain.RuleModel, rule *domain.PackageRule, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{Rule: rule.Name, Scope: "package", Severity: rule.Severity, Passed: true}
	check := rule.Check

	src := set.Get(check.Source.Catalog)
	tgt := set.Get(check.Target.Catalog)
	srcVal := src.ColumnIndex(check.Source.Column)
	srcKey := src.ColumnIndex(check.Source.GroupBy)
	tgtVal := tgt.ColumnIndex(check.Target.Column)
	tgtKey := tgt.ColumnIndex(check.Target.Key)
	if srcVal < 0 || srcKey < 0 || tgtVal < 0 || tgtKey < 0 {
		return out, newDataError(check.Source.Catalog, "aggregate_compare columns missing from delivered data")
	}

	type groupAgg struct {
		sum, min, max float64
		count         int
	}
	groups := make(map[string]*groupAgg)
	for row := range src.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		key := src.Cell(row, srcKey)
		cell := src.Cell(row, srcVal)
		if key == "" || cell == "" {
			continue
		}
		n, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &groupAgg{min: n, max: n}
			groups[key] = g
		}
		if n < g.min {
			g.min = n
		}
		if n > g.max {
			g.max = n
		}
		g.sum += n
		g.count++
	}

	lookup := make(map[string]float64, len(tgt.Rows))
	for row := range tgt.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		key := tgt.Cell(row, tgtKey)
		cell := tgt.Cell(row, tgtVal)
		if key == "" || cell == "" {
			continue
		}
		if _, ok := lookup[key]; ok {
			continue // primera ocurrencia manda
		}
		if n, err := strconv.ParseFloat(cell, 64); err == nil {
			lookup[key] = n
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var failing []string
	for _, key := range keys {
		g := groups[key]
		var agg float64
		switch check.Func {
		case domain.AggSum:
			agg = g.sum
		case domain.AggMin:
			agg = g.min
		case domain.AggMax:
			agg = g.max
		case domain.AggAvg:
			agg = g.sum / float64(g.count)
		}

		expected, ok := lookup[key]
		if !ok {
			out.Passed = false
			out.FailingRows++
			if len(failing) < opts.sampleLimit() {
				failing = append(failing, key+" (no target row)")
			}
			continue
		}
		if !compareFloat(check.Op, agg, expected) {
			out.Passed = false
			out.FailingRows++
			if len(failing) < opts.sampleLimit() {
				failing = append(failing, fmt.Sprintf("%s: %s=%v vs %v", key, check.Func, agg, expected))
			}
		}
	}
	if !out.Passed {
		out.Detail = fmt.Sprintf("%d group(s) violate %s(%s.%s) %s %s.%s: %v",
			out.FailingRows, check.Func, check.Source.Catalog, check.Source.Column,
			check.Op, check.Target.Catalog, check.Target.Column, failing)
	}
	return out, nil
}

// evalTolerance: source.column debe igualar el producto de las columnas
// Product de la misma fila, con margen epsilon.
func evalTolerance(ctx context.Context, set *CatalogSet, model *domain.RuleModel, rule *domain.PackageRule, opts Options) (RuleOutcome, error) {
	out := RuleOutcome{Rule: rule.Name, Scope: "package", Severity: rule.Severity, Passed: true}
	check := rule.Check

	ds := set.Get(check.Source.Catalog)
	valCol := ds.ColumnIndex(check.Source.Column)
	if valCol < 0 {
		return out, newDataError(check.Source.Catalog, "tolerance column %q missing from delivered data", check.Source.Column)
	}
	factorCols := make([]int, len(check.Product))
	for i, name := range check.Product {
		col := ds.ColumnIndex(name)
		if col < 0 {
			return out, newDataError(check.Source.Catalog, "tolerance factor %q missing from delivered data", name)
		}
		factorCols[i] = col
	}

	for row := range ds.Rows {
		if err := checkCtx(ctx, row); err != nil {
			return out, err
		}
		cell := ds.Cell(row, valCol)
		if cell == "" {
			continue
		}
		got, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			failRow(&out, row, opts)
			continue
		}

		expected := 1.0
		complete := true
		for _, col := range factorCols {
			fc := ds.Cell(row, col)
			if fc == "" {
				complete = false
				break
			}
			n, err := strconv.ParseFloat(fc, 64)
			if err != nil {
				complete = false
				break
			}
			expected *= n
		}
		if !complete {
			continue
		}
		if math.Abs(got-expected) > check.Epsilon {
			failRow(&out, row, opts)
		}
	}
	finish(&out, fmt.Sprintf("%s.%s deviates from product(%v) beyond epsilon %v",
		check.Source.Catalog, check.Source.Column, check.Product, check.Epsilon))
	return out, nil
}
