// Package spec carga documentos YAML de reglas y los convierte en un
// RuleModel validado. La carga es pura: no toca red ni filesystem más allá de
// los bytes recibidos.
package spec

import (
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/davicafu/casillero/internal/rules/domain"
)

// Load parsea y valida en modo estricto: cualquier RuleError también rechaza
// el documento. Para tolerar reglas sueltas mal formadas usar LoadLenient.
func Load(data []byte) (*domain.RuleModel, error) {
	model, ruleErrs, err := LoadLenient(data)
	if err != nil {
		return nil, err
	}
	if len(ruleErrs) > 0 {
		joined := make([]error, len(ruleErrs))
		for i, re := range ruleErrs {
			joined[i] = re
		}
		return nil, errors.Join(joined...)
	}
	return model, nil
}

// LoadLenient parsea y valida el documento. Los errores estructurales
// (SchemaError) son fatales; las reglas individuales mal formadas se eliminan
// del modelo y se devuelven como RuleError para que el resto siga usable.
func LoadLenient(data []byte) (*domain.RuleModel, []*domain.RuleError, error) {
	var model domain.RuleModel
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, nil, domain.NewSchemaError("$", "invalid YAML: %v", err)
	}

	if len(model.Catalogs) == 0 {
		return nil, nil, domain.NewSchemaError("catalogs", "at least one catalog is required")
	}

	// Los nombres viven en las claves del mapa; se propagan a las entidades.
	for name, cat := range model.Catalogs {
		if cat == nil {
			return nil, nil, domain.NewSchemaError("catalogs."+name, "catalog body is empty")
		}
		cat.Name = name
	}
	for name, pkg := range model.Packages {
		if pkg == nil {
			return nil, nil, domain.NewSchemaError("packages."+name, "package body is empty")
		}
		pkg.Name = name
	}

	var ruleErrs []*domain.RuleError

	for name, cat := range model.Catalogs {
		errs, err := validateCatalog(cat, "catalogs."+name)
		if err != nil {
			return nil, nil, err
		}
		ruleErrs = append(ruleErrs, errs...)
	}

	for name, pkg := range model.Packages {
		errs, err := validatePackage(&model, pkg, "packages."+name)
		if err != nil {
			return nil, nil, err
		}
		ruleErrs = append(ruleErrs, errs...)
	}

	pruneBadRules(&model, ruleErrs)
	return &model, ruleErrs, nil
}

// Serialize vuelca el modelo a YAML. Load(Serialize(m)) preserva todos los
// catálogos, campos, reglas y severidades.
func Serialize(model *domain.RuleModel) ([]byte, error) {
	return yaml.Marshal(model)
}

// ---------------- Validación por catálogo ----------------

func validateCatalog(cat *domain.Catalog, path string) ([]*domain.RuleError, error) {
	if !domain.ValidFormat(cat.Format.Type) {
		return nil, domain.NewSchemaError(path+".format.type", "unsupported format %q", cat.Format.Type)
	}
	if cat.Format.Type == domain.FormatDelimited && len([]rune(cat.Format.Delimiter)) > 1 {
		return nil, domain.NewSchemaError(path+".format.delimiter", "delimiter must be a single character")
	}
	if len(cat.Fields) == 0 {
		return nil, domain.NewSchemaError(path+".fields", "catalog declares no fields")
	}

	seen := make(map[string]bool, len(cat.Fields))
	for i := range cat.Fields {
		f := &cat.Fields[i]
		fpath := fmt.Sprintf("%s.fields[%d]", path, i)
		if f.Name == "" {
			return nil, domain.NewSchemaError(fpath, "field has no name")
		}
		if seen[f.Name] {
			return nil, domain.NewSchemaError(fpath, "duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case domain.FieldText, domain.FieldInteger, domain.FieldDecimal, domain.FieldDate:
		default:
			return nil, domain.NewSchemaError(fpath+".type", "unknown field type %q", f.Type)
		}
	}

	var ruleErrs []*domain.RuleError
	for i := range cat.Fields {
		f := &cat.Fields[i]
		for j := range f.Rules {
			r := &f.Rules[j]
			rpath := fmt.Sprintf("%s.fields[%d].validation_rules[%d]", path, i, j)
			if re := validateRuleCommon(r.Name, r.Severity, rpath); re != nil {
				ruleErrs = append(ruleErrs, re)
				continue
			}
			if re := validateFieldCheck(&r.Check, r.Name, rpath); re != nil {
				ruleErrs = append(ruleErrs, re)
			}
		}
	}
	for i := range cat.RowRules {
		r := &cat.RowRules[i]
		rpath := fmt.Sprintf("%s.row_rules[%d]", path, i)
		if re := validateRuleCommon(r.Name, r.Severity, rpath); re != nil {
			ruleErrs = append(ruleErrs, re)
			continue
		}
		if re := validateRowCheck(cat, &r.Check, r.Name, rpath); re != nil {
			ruleErrs = append(ruleErrs, re)
		}
	}
	for i := range cat.CatalogRules {
		r := &cat.CatalogRules[i]
		rpath := fmt.Sprintf("%s.catalog_rules[%d]", path, i)
		if re := validateRuleCommon(r.Name, r.Severity, rpath); re != nil {
			ruleErrs = append(ruleErrs, re)
			continue
		}
		if re := validateAggregateCheck(cat, &r.Check, r.Name, rpath); re != nil {
			ruleErrs = append(ruleErrs, re)
		}
	}
	return ruleErrs, nil
}

// ---------------- Validación por paquete ----------------

func validatePackage(model *domain.RuleModel, pkg *domain.Package, path string) ([]*domain.RuleError, error) {
	if len(pkg.Catalogs) == 0 {
		return nil, domain.NewSchemaError(path+".catalogs", "package lists no catalogs")
	}
	members := make(map[string]bool, len(pkg.Catalogs))
	for i, name := range pkg.Catalogs {
		if _, ok := model.Catalogs[name]; !ok {
			return nil, domain.NewSchemaError(fmt.Sprintf("%s.catalogs[%d]", path, i),
				"package references undeclared catalog %q", name)
		}
		members[name] = true
	}

	var ruleErrs []*domain.RuleError
	for i := range pkg.Rules {
		r := &pkg.Rules[i]
		rpath := fmt.Sprintf("%s.package_validation[%d]", path, i)
		if re := validateRuleCommon(r.Name, r.Severity, rpath); re != nil {
			ruleErrs = append(ruleErrs, re)
			continue
		}
		if re := validatePackageCheck(model, members, &r.Check, r.Name, rpath); re != nil {
			ruleErrs = append(ruleErrs, re)
		}
	}
	return ruleErrs, nil
}

// ---------------- Validación de checks ----------------

func validateRuleCommon(name string, sev domain.Severity, path string) *domain.RuleError {
	if name == "" {
		return domain.NewRuleError("(unnamed)", path, "rule has no name")
	}
	if !domain.ValidSeverity(sev) {
		return domain.NewRuleError(name, path+".severity", "severity must be error or warning, got %q", sev)
	}
	return nil
}

func validateFieldCheck(c *domain.Check, rule, path string) *domain.RuleError {
	switch c.Kind {
	case domain.CheckRegex:
		if c.Pattern == "" {
			return domain.NewRuleError(rule, path, "regex check requires a pattern")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return domain.NewRuleError(rule, path+".check.pattern", "invalid regex: %v", err)
		}
	case domain.CheckRange:
		if c.Min == nil && c.Max == nil {
			return domain.NewRuleError(rule, path, "range check requires min and/or max")
		}
	case domain.CheckInSet:
		if len(c.Values) == 0 {
			return domain.NewRuleError(rule, path, "in_set check requires values")
		}
	case domain.CheckComparison:
		if !validOp(c.Op) {
			return domain.NewRuleError(rule, path+".check.op", "unknown operator %q", c.Op)
		}
		if !c.Right.IsLiteral() || (c.Right.Number == nil && c.Right.Text == nil) {
			return domain.NewRuleError(rule, path, "field comparison requires a literal right operand")
		}
	default:
		return domain.NewRuleError(rule, path+".check.kind", "check kind %q not valid at field scope", c.Kind)
	}
	return nil
}

func validateRowCheck(cat *domain.Catalog, c *domain.Check, rule, path string) *domain.RuleError {
	if c.Kind != domain.CheckComparison {
		return domain.NewRuleError(rule, path+".check.kind", "check kind %q not valid at row scope", c.Kind)
	}
	if !validOp(c.Op) {
		return domain.NewRuleError(rule, path+".check.op", "unknown operator %q", c.Op)
	}
	for _, op := range []domain.Operand{c.Left, c.Right} {
		if op.Column != "" && cat.FieldByName(op.Column) == nil {
			return domain.NewRuleError(rule, path, "unknown column %q in catalog %q", op.Column, cat.Name)
		}
	}
	if c.Left.IsLiteral() && c.Right.IsLiteral() {
		return domain.NewRuleError(rule, path, "row comparison must reference at least one column")
	}
	return nil
}

func validateAggregateCheck(cat *domain.Catalog, c *domain.Check, rule, path string) *domain.RuleError {
	if c.Kind != domain.CheckAggregate {
		return domain.NewRuleError(rule, path+".check.kind", "check kind %q not valid at catalog scope", c.Kind)
	}
	if !validAgg(c.Func) {
		return domain.NewRuleError(rule, path+".check.func", "unknown aggregate %q", c.Func)
	}
	if c.Func != domain.AggCount && c.Column == "" {
		return domain.NewRuleError(rule, path, "aggregate %q requires a column", c.Func)
	}
	if c.Column != "" && cat.FieldByName(c.Column) == nil {
		return domain.NewRuleError(rule, path, "unknown column %q in catalog %q", c.Column, cat.Name)
	}
	if !validOp(c.Op) {
		return domain.NewRuleError(rule, path+".check.op", "unknown operator %q", c.Op)
	}
	if c.Threshold == nil {
		return domain.NewRuleError(rule, path, "aggregate check requires a threshold")
	}
	return nil
}

func validatePackageCheck(model *domain.RuleModel, members map[string]bool, c *domain.Check, rule, path string) *domain.RuleError {
	column := func(ref domain.ColumnRef, col, what string) *domain.RuleError {
		if !members[ref.Catalog] {
			return domain.NewRuleError(rule, path, "%s references catalog %q outside the package", what, ref.Catalog)
		}
		if col != "" && model.Catalogs[ref.Catalog].FieldByName(col) == nil {
			return domain.NewRuleError(rule, path, "unknown column %q in catalog %q", col, ref.Catalog)
		}
		return nil
	}

	switch c.Kind {
	case domain.CheckMembership:
		if c.Source.Column == "" || c.Target.Column == "" {
			return domain.NewRuleError(rule, path, "membership requires source and target columns")
		}
		if re := column(c.Source, c.Source.Column, "source"); re != nil {
			return re
		}
		if re := column(c.Target, c.Target.Column, "target"); re != nil {
			return re
		}
	case domain.CheckAggregateCompare:
		if !validAgg(c.Func) || c.Func == domain.AggCount || c.Func == domain.AggCountDistinct {
			return domain.NewRuleError(rule, path+".check.func", "aggregate_compare requires a numeric aggregate, got %q", c.Func)
		}
		if !validOp(c.Op) {
			return domain.NewRuleError(rule, path+".check.op", "unknown operator %q", c.Op)
		}
		if c.Source.GroupBy == "" || c.Target.Key == "" {
			return domain.NewRuleError(rule, path, "aggregate_compare requires source.group_by and target.key")
		}
		if re := column(c.Source, c.Source.Column, "source"); re != nil {
			return re
		}
		if re := column(c.Source, c.Source.GroupBy, "source"); re != nil {
			return re
		}
		if re := column(c.Target, c.Target.Column, "target"); re != nil {
			return re
		}
		if re := column(c.Target, c.Target.Key, "target"); re != nil {
			return re
		}
	case domain.CheckTolerance:
		if c.Source.Catalog == "" || c.Source.Column == "" {
			return domain.NewRuleError(rule, path, "tolerance requires source catalog and column")
		}
		if len(c.Product) == 0 {
			return domain.NewRuleError(rule, path, "tolerance requires product columns")
		}
		if c.Epsilon < 0 {
			return domain.NewRuleError(rule, path+".check.epsilon", "epsilon must not be negative")
		}
		if re := column(c.Source, c.Source.Column, "source"); re != nil {
			return re
		}
		for _, col := range c.Product {
			if re := column(c.Source, col, "source"); re != nil {
				return re
			}
		}
	default:
		return domain.NewRuleError(rule, path+".check.kind", "check kind %q not valid at package scope", c.Kind)
	}
	return nil
}

func validOp(op domain.CompareOp) bool {
	switch op {
	case domain.OpEq, domain.OpNe, domain.OpGt, domain.OpGe, domain.OpLt, domain.OpLe:
		return true
	}
	return false
}

func validAgg(f domain.AggFunc) bool {
	switch f {
	case domain.AggMin, domain.AggMax, domain.AggSum, domain.AggAvg, domain.AggCount, domain.AggCountDistinct:
		return true
	}
	return false
}

// ---------------- Poda de reglas inválidas ----------------

// pruneBadRules elimina del modelo las reglas recogidas como RuleError para
// que el resto del documento siga siendo evaluable.
func pruneBadRules(model *domain.RuleModel, ruleErrs []*domain.RuleError) {
	if len(ruleErrs) == 0 {
		return
	}
	bad := make(map[string]bool, len(ruleErrs))
	for _, re := range ruleErrs {
		bad[re.Rule] = true
	}

	for _, cat := range model.Catalogs {
		for i := range cat.Fields {
			cat.Fields[i].Rules = filterFieldRules(cat.Fields[i].Rules, bad)
		}
		kept := cat.RowRules[:0]
		for _, r := range cat.RowRules {
			if !bad[r.Name] {
				kept = append(kept, r)
			}
		}
		cat.RowRules = kept
		keptCat := cat.CatalogRules[:0]
		for _, r := range cat.CatalogRules {
			if !bad[r.Name] {
				keptCat = append(keptCat, r)
			}
		}
		cat.CatalogRules = keptCat
	}
	for _, pkg := range model.Packages {
		kept := pkg.Rules[:0]
		for _, r := range pkg.Rules {
			if !bad[r.Name] {
				kept = append(kept, r)
			}
		}
		pkg.Rules = kept
	}
}

func filterFieldRules(rules []domain.FieldRule, bad map[string]bool) []domain.FieldRule {
	kept := rules[:0]
	for _, r := range rules {
		if !bad[r.Name] {
			kept = append(kept, r)
		}
	}
	return kept
}
