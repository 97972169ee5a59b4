package domain

import "fmt"

// ---------- Errores de dominio ----------

// SchemaError: el documento de reglas es inválido. Fatal en carga; rechaza el
// modelo completo de la casilla. Path señala el catálogo/campo/regla ofensor.
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error at %s: %s", e.Path, e.Msg)
}

// NewSchemaError construye un SchemaError con path tipo "catalogs.ventas.fields[2]".
func NewSchemaError(path, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// RuleError: una expresión de regla está mal formada. Fatal en carga solo para
// esa regla; el resto del modelo sigue siendo usable en modo leniente.
type RuleError struct {
	Rule string
	Path string
	Msg  string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q at %s: %s", e.Rule, e.Path, e.Msg)
}

func NewRuleError(rule, path, format string, args ...interface{}) *RuleError {
	return &RuleError{Rule: rule, Path: path, Msg: fmt.Sprintf(format, args...)}
}
