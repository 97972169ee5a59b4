package domain

// Las expresiones de las reglas se modelan como un conjunto cerrado de
// combinadores tipados seleccionados por `kind`, en lugar de un intérprete de
// expresiones libre. Los tres patrones de paquete (membership, aggregate_compare
// y tolerance) son primitivas de primera clase del evaluador.

// CheckKind discrimina la variante de un check.
type CheckKind string

const (
	CheckComparison       CheckKind = "comparison"
	CheckRegex            CheckKind = "regex"
	CheckRange            CheckKind = "range"
	CheckInSet            CheckKind = "in_set"
	CheckAggregate        CheckKind = "aggregate"
	CheckMembership       CheckKind = "membership"
	CheckAggregateCompare CheckKind = "aggregate_compare"
	CheckTolerance        CheckKind = "tolerance"
)

// CompareOp son los operadores de comparación soportados.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
)

// AggFunc son las funciones de agregación soportadas.
type AggFunc string

const (
	AggMin           AggFunc = "min"
	AggMax           AggFunc = "max"
	AggSum           AggFunc = "sum"
	AggAvg           AggFunc = "avg"
	AggCount         AggFunc = "count"
	AggCountDistinct AggFunc = "count_distinct"
)

// Operand es una columna o un literal dentro de una comparación.
type Operand struct {
	Column string   `yaml:"column,omitempty" json:"column,omitempty"`
	Number *float64 `yaml:"number,omitempty" json:"number,omitempty"`
	Text   *string  `yaml:"text,omitempty" json:"text,omitempty"`
}

// IsLiteral indica si el operando lleva valor literal en vez de columna.
func (o Operand) IsLiteral() bool { return o.Column == "" }

// ColumnRef referencia una columna de un catálogo concreto (reglas de paquete).
type ColumnRef struct {
	Catalog string `yaml:"catalog" json:"catalog"`
	Column  string `yaml:"column" json:"column"`
	// GroupBy / Key solo aplican en aggregate_compare.
	GroupBy string `yaml:"group_by,omitempty" json:"group_by,omitempty"`
	Key     string `yaml:"key,omitempty" json:"key,omitempty"`
}

// Check es la variante etiquetada; solo los campos de su Kind van rellenos.
type Check struct {
	Kind CheckKind `yaml:"kind" json:"kind"`

	// comparison (ámbito fila: operandos columna/literal; ámbito campo: la
	// propia columna contra Right literal).
	Left  Operand   `yaml:"left,omitempty" json:"left,omitempty"`
	Op    CompareOp `yaml:"op,omitempty" json:"op,omitempty"`
	Right Operand   `yaml:"right,omitempty" json:"right,omitempty"`

	// regex
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// range (inclusive; cualquiera de los dos extremos puede faltar)
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// in_set
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`

	// aggregate (ámbito catálogo)
	Func      AggFunc  `yaml:"func,omitempty" json:"func,omitempty"`
	Column    string   `yaml:"column,omitempty" json:"column,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// membership / aggregate_compare
	Source ColumnRef `yaml:"source,omitempty" json:"source,omitempty"`
	Target ColumnRef `yaml:"target,omitempty" json:"target,omitempty"`

	// tolerance: Column del catálogo Source debe igualar el producto de
	// Product (columnas de la misma fila) con margen Epsilon.
	Product []string `yaml:"product,omitempty" json:"product,omitempty"`
	Epsilon float64  `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
}

// FieldRule valida una sola columna.
type FieldRule struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Check       Check    `yaml:"check" json:"check"`
}

// RowRule valida varias columnas de la misma fila.
type RowRule struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Check       Check    `yaml:"check" json:"check"`
}

// CatalogRule valida un agregado sobre el catálogo completo; solo pasa/falla.
type CatalogRule struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Check       Check    `yaml:"check" json:"check"`
}

// PackageRule valida entre catálogos de un paquete.
type PackageRule struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Check       Check    `yaml:"check" json:"check"`
}

// ValidSeverity comprueba pertenencia al conjunto cerrado.
func ValidSeverity(s Severity) bool {
	return s == SeverityError || s == SeverityWarning
}

// ValidFormat comprueba pertenencia al conjunto cerrado.
func ValidFormat(t FormatType) bool {
	return t == FormatDelimited || t == FormatSpreadsheet || t == FormatArchive
}
