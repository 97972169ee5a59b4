package domain

// Modelo de reglas declarativo: catálogos con campos tipados y reglas de
// validación en cuatro ámbitos (campo, fila, catálogo, paquete). El modelo es
// inmutable una vez cargado; cualquier recarga sustituye el snapshot completo.

// FieldType es el tipo declarado de una columna.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldInteger FieldType = "integer"
	FieldDecimal FieldType = "decimal"
	FieldDate    FieldType = "date"
)

// Severity de una regla fallida.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// FormatType es el conjunto cerrado de formatos de fichero soportados.
type FormatType string

const (
	FormatDelimited   FormatType = "delimited"
	FormatSpreadsheet FormatType = "spreadsheet"
	FormatArchive     FormatType = "archive"
)

// DefaultDateLayout se usa cuando un campo date no declara layout propio.
const DefaultDateLayout = "2006-01-02"

// FileFormat describe cómo leer el fichero de un catálogo.
type FileFormat struct {
	Type      FormatType `yaml:"type" json:"type"`
	Delimiter string     `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Header    bool       `yaml:"header" json:"header"`
	Encoding  string     `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// Field es una columna declarada de un catálogo.
type Field struct {
	Name       string      `yaml:"name" json:"name"`
	Type       FieldType   `yaml:"type" json:"type"`
	Required   bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Unique     bool        `yaml:"unique,omitempty" json:"unique,omitempty"`
	DateLayout string      `yaml:"date_layout,omitempty" json:"date_layout,omitempty"`
	Rules      []FieldRule `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
}

// Layout devuelve el layout de fecha efectivo del campo.
func (f *Field) Layout() string {
	if f.DateLayout != "" {
		return f.DateLayout
	}
	return DefaultDateLayout
}

// Catalog es un dataset nombrado: formato de fichero + campos ordenados +
// reglas de fila y de catálogo.
type Catalog struct {
	Name         string        `yaml:"-" json:"name"`
	Format       FileFormat    `yaml:"format" json:"format"`
	Fields       []Field       `yaml:"fields" json:"fields"`
	RowRules     []RowRule     `yaml:"row_rules,omitempty" json:"row_rules,omitempty"`
	CatalogRules []CatalogRule `yaml:"catalog_rules,omitempty" json:"catalog_rules,omitempty"`
}

// FieldByName busca un campo declarado; nil si no existe.
func (c *Catalog) FieldByName(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// Package agrupa varios catálogos validados juntos (normalmente un archivo).
type Package struct {
	Name     string        `yaml:"-" json:"name"`
	Catalogs []string      `yaml:"catalogs" json:"catalogs"`
	Rules    []PackageRule `yaml:"package_validation,omitempty" json:"package_validation,omitempty"`
}

// RuleModel es el árbol completo de un documento de reglas.
type RuleModel struct {
	Catalogs map[string]*Catalog `yaml:"catalogs" json:"catalogs"`
	Packages map[string]*Package `yaml:"packages,omitempty" json:"packages,omitempty"`
}

// CatalogNames devuelve los nombres declarados (sin orden garantizado).
func (m *RuleModel) CatalogNames() []string {
	names := make([]string, 0, len(m.Catalogs))
	for name := range m.Catalogs {
		names = append(names, name)
	}
	return names
}
