package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/casillero/internal/rules/domain"
	"github.com/davicafu/casillero/internal/rules/spec"
)

const docProductos = `
catalogs:
  productos:
    format:
      type: delimited
      delimiter: ","
      header: true
    fields:
      - name: producto_id
        type: text
        required: true
        unique: true
        validation_rules:
          - name: producto_id_formato
            description: el identificador sigue el patrón PROD-NNN
            severity: error
            check:
              kind: regex
              pattern: '^PROD-\d{3}$'
      - name: unidades
        type: integer
        validation_rules:
          - name: unidades_rango
            severity: warning
            check:
              kind: range
              min: 0
              max: 100
      - name: precio
        type: decimal
      - name: total
        type: decimal
    row_rules:
      - name: total_no_menor_que_precio
        severity: error
        check:
          kind: comparison
          left: { column: total }
          op: ge
          right: { column: precio }
    catalog_rules:
      - name: suma_unidades_tope
        severity: warning
        check:
          kind: aggregate
          func: sum
          column: unidades
          op: le
          threshold: 150
`

func loadModel(t *testing.T, doc string) *domain.RuleModel {
	t.Helper()
	model, err := spec.Load([]byte(doc))
	require.NoError(t, err)
	return model
}

func mustEvaluate(t *testing.T, model *domain.RuleModel, csv string) *Result {
	t.Helper()
	set, err := LoadCatalogSet(model, "productos.csv", []byte(csv))
	require.NoError(t, err)
	result, err := Evaluate(context.Background(), set, model, Options{})
	require.NoError(t, err)
	return result
}

func outcome(t *testing.T, result *Result, rule string) RuleOutcome {
	t.Helper()
	for _, out := range result.Outcomes {
		if out.Rule == rule {
			return out
		}
	}
	t.Fatalf("outcome %q not found in %v", rule, result.Outcomes)
	return RuleOutcome{}
}

func TestEvaluate_AllRulesPass(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, `producto_id,unidades,precio,total
PROD-001,10,5.0,50.0
PROD-002,20,2.5,50.0
`)
	assert.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 0, result.WarningCount)
	for _, out := range result.Outcomes {
		assert.True(t, out.Passed, "rule %s should pass", out.Rule)
	}
}

func TestEvaluate_RegexAndUniqueViolations(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, `producto_id,unidades,precio,total
PROD-001,10,5.0,50.0
BADID,10,5.0,50.0
PROD-001,10,5.0,50.0
`)

	regex := outcome(t, result, "producto_id_formato")
	assert.False(t, regex.Passed)
	assert.Equal(t, 1, regex.FailingRows)
	assert.Equal(t, []int{2}, regex.SampleRows) // filas 1-based
	assert.Equal(t, "el identificador sigue el patrón PROD-NNN", regex.Detail)

	unique := outcome(t, result, "producto_id_unique")
	assert.False(t, unique.Passed)
	assert.Equal(t, []int{3}, unique.SampleRows)

	// Dos reglas de error fallidas, aunque una sea la misma columna.
	assert.Equal(t, 2, result.ErrorCount)
	assert.Equal(t, 0, result.WarningCount)
}

func TestEvaluate_RequiredCountsEmptyCells(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, `producto_id,unidades,precio,total
PROD-001,10,5.0,50.0
,10,5.0,50.0
`)

	out := outcome(t, result, "producto_id_required")
	assert.False(t, out.Passed)
	assert.Equal(t, 1, out.FailingRows)

	// La celda vacía no dispara la regla regex: la nulidad es cosa de required.
	assert.True(t, outcome(t, result, "producto_id_formato").Passed)
}

func TestEvaluate_RangeWarningAndUnparsableCell(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, `producto_id,unidades,precio,total
PROD-001,150,5.0,750.0
PROD-002,abc,5.0,5.0
`)

	out := outcome(t, result, "unidades_rango")
	assert.False(t, out.Passed)
	// 150 excede max y "abc" no parsea como numérico: ambas filas incumplen.
	assert.Equal(t, 2, out.FailingRows)
	assert.Equal(t, domain.SeverityWarning, out.Severity)
	assert.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 1, result.WarningCount)
}

func TestEvaluate_RowRule(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, `producto_id,unidades,precio,total
PROD-001,10,5.0,50.0
PROD-002,10,9.0,4.5
PROD-003,10,,4.5
`)

	out := outcome(t, result, "total_no_menor_que_precio")
	assert.False(t, out.Passed)
	// La fila 3 tiene precio vacío: no participa (verdad vacua).
	assert.Equal(t, 1, out.FailingRows)
	assert.Equal(t, []int{2}, out.SampleRows)
}

func TestEvaluate_CatalogAggregate(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, `producto_id,unidades,precio,total
PROD-001,100,1.0,100.0
PROD-002,90,1.0,90.0
`)

	out := outcome(t, result, "suma_unidades_tope")
	assert.False(t, out.Passed)
	assert.Contains(t, out.Detail, "sum(unidades)=190")
	assert.Equal(t, 1, result.WarningCount)
}

func TestEvaluate_EmptyDatasetIsVacuouslyValid(t *testing.T) {
	model := loadModel(t, docProductos)
	result := mustEvaluate(t, model, "producto_id,unidades,precio,total\n")

	assert.Equal(t, 0, result.ErrorCount)
	assert.Equal(t, 0, result.WarningCount)
	for _, out := range result.Outcomes {
		assert.True(t, out.Passed, "rule %s should pass on empty dataset", out.Rule)
	}
}

func TestEvaluate_EmptyDatasetFailsCountAggregate(t *testing.T) {
	model := loadModel(t, `
catalogs:
  productos:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - { name: producto_id, type: text }
    catalog_rules:
      - name: al_menos_una_fila
        severity: error
        check: { kind: aggregate, func: count, op: ge, threshold: 1 }
`)
	result := mustEvaluate(t, model, "producto_id\n")

	out := outcome(t, result, "al_menos_una_fila")
	assert.False(t, out.Passed)
	assert.Equal(t, 1, result.ErrorCount)
}

func TestEvaluate_SampleRowsCapped(t *testing.T) {
	model := loadModel(t, `
catalogs:
  productos:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - name: producto_id
        type: text
        validation_rules:
          - name: formato
            severity: error
            check: { kind: regex, pattern: '^PROD-\d{3}$' }
`)
	csv := "producto_id\n"
	for i := 0; i < 10; i++ {
		csv += "malo\n"
	}
	set, err := LoadCatalogSet(model, "productos.csv", []byte(csv))
	require.NoError(t, err)
	result, err := Evaluate(context.Background(), set, model, Options{SampleLimit: 3})
	require.NoError(t, err)

	out := outcome(t, result, "formato")
	assert.Equal(t, 10, out.FailingRows)
	assert.Equal(t, []int{1, 2, 3}, out.SampleRows)
}

func TestEvaluate_CancelledContext(t *testing.T) {
	model := loadModel(t, docProductos)
	set, err := LoadCatalogSet(model, "productos.csv", []byte("producto_id,unidades,precio,total\nPROD-001,1,1.0,1.0\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluate(ctx, set, model, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------- Errores de datos ----------------

func TestLoadCatalogSet_FileDoesNotMatchCatalog(t *testing.T) {
	model := loadModel(t, `
catalogs:
  productos:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - { name: producto_id, type: text }
  clientes:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - { name: cliente_id, type: text }
`)
	_, err := LoadCatalogSet(model, "otra_cosa.csv", []byte("x\n1\n"))
	require.Error(t, err)
	var de *DataError
	assert.ErrorAs(t, err, &de)
}

func TestLoadCatalogSet_SingleCatalogMatchesAnyFilename(t *testing.T) {
	model := loadModel(t, docProductos)
	set, err := LoadCatalogSet(model, "entrega_2024.csv", []byte("producto_id,unidades,precio,total\nPROD-001,1,1.0,1.0\n"))
	require.NoError(t, err)
	assert.NotNil(t, set.Get("productos"))
}

func TestReadDataset_MissingDeclaredField(t *testing.T) {
	model := loadModel(t, docProductos)
	_, err := LoadCatalogSet(model, "productos.csv", []byte("producto_id,unidades\nPROD-001,1\n"))
	require.Error(t, err)
	var de *DataError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "productos", de.Catalog)
	assert.Contains(t, de.Msg, "precio")
}

func TestReadDataset_RaggedRow(t *testing.T) {
	model := loadModel(t, docProductos)
	_, err := LoadCatalogSet(model, "productos.csv", []byte("producto_id,unidades,precio,total\nPROD-001,1\n"))
	require.Error(t, err)
	var de *DataError
	assert.ErrorAs(t, err, &de)
}

func TestReadDataset_NoHeaderUsesDeclaredOrder(t *testing.T) {
	model := loadModel(t, `
catalogs:
  productos:
    format: { type: delimited, delimiter: ";", header: false }
    fields:
      - { name: producto_id, type: text }
      - { name: unidades, type: integer }
`)
	set, err := LoadCatalogSet(model, "productos.csv", []byte("PROD-001;5\nPROD-002;7\n"))
	require.NoError(t, err)
	ds := set.Get("productos")
	require.NotNil(t, ds)
	assert.Equal(t, []string{"producto_id", "unidades"}, ds.Columns)
	assert.Equal(t, "7", ds.Cell(1, 1))
}
