package eval

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/davicafu/casillero/internal/rules/domain"
)

// DataError: el fichero de entrada es ilegible o no cuadra con el esquema
// declarado. Se recupera como Execution fallida, nunca tumba el pipeline.
type DataError struct {
	Catalog string
	Msg     string
}

func (e *DataError) Error() string {
	if e.Catalog != "" {
		return fmt.Sprintf("data error in catalog %q: %s", e.Catalog, e.Msg)
	}
	return "data error: " + e.Msg
}

func newDataError(catalog, format string, args ...interface{}) *DataError {
	return &DataError{Catalog: catalog, Msg: fmt.Sprintf(format, args...)}
}

// Dataset es un catálogo ya cargado en memoria: columnas nombradas + filas.
type Dataset struct {
	Catalog string
	Columns []string
	Rows    [][]string

	colIdx map[string]int
}

// ColumnIndex devuelve la posición de la columna o -1.
func (d *Dataset) ColumnIndex(name string) int {
	if idx, ok := d.colIdx[name]; ok {
		return idx
	}
	return -1
}

// Cell devuelve la celda (fila, columna) ya recortada de espacios.
func (d *Dataset) Cell(row, col int) string {
	return strings.TrimSpace(d.Rows[row][col])
}

func newDataset(catalog string, columns []string, rows [][]string) *Dataset {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &Dataset{Catalog: catalog, Columns: columns, Rows: rows, colIdx: idx}
}

// CatalogSet agrupa los datasets de una entrega (uno por catálogo).
type CatalogSet struct {
	byName map[string]*Dataset
}

// NewCatalogSet construye el set a partir de datasets ya cargados.
func NewCatalogSet(datasets ...*Dataset) *CatalogSet {
	set := &CatalogSet{byName: make(map[string]*Dataset, len(datasets))}
	for _, ds := range datasets {
		set.byName[ds.Catalog] = ds
	}
	return set
}

// Get devuelve el dataset del catálogo o nil.
func (s *CatalogSet) Get(name string) *Dataset {
	return s.byName[name]
}

// Len devuelve cuántos catálogos contiene la entrega.
func (s *CatalogSet) Len() int { return len(s.byName) }

// ---------------- Carga desde payload ----------------

// LoadCatalogSet interpreta el payload de una llegada según el modelo: un zip
// se expande a catálogos miembro emparejados por nombre de fichero; un fichero
// suelto se empareja por nombre, o por unicidad si el modelo declara un solo
// catálogo.
func LoadCatalogSet(model *domain.RuleModel, filename string, payload []byte) (*CatalogSet, error) {
	if strings.EqualFold(filepath.Ext(filename), ".zip") {
		return loadArchive(model, payload)
	}

	cat := matchCatalog(model, filename)
	if cat == nil {
		return nil, newDataError("", "file %q does not match any declared catalog", filename)
	}
	ds, err := ReadDataset(cat, filename, payload)
	if err != nil {
		return nil, err
	}
	return NewCatalogSet(ds), nil
}

func loadArchive(model *domain.RuleModel, payload []byte) (*CatalogSet, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, newDataError("", "unreadable zip archive: %v", err)
	}

	set := &CatalogSet{byName: make(map[string]*Dataset)}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		cat := matchCatalog(model, entry.Name)
		if cat == nil {
			continue // ficheros extra en el zip se ignoran
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, newDataError(cat.Name, "cannot open zip entry %q: %v", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, newDataError(cat.Name, "cannot read zip entry %q: %v", entry.Name, err)
		}
		ds, err := ReadDataset(cat, entry.Name, data)
		if err != nil {
			return nil, err
		}
		set.byName[cat.Name] = ds
	}
	if len(set.byName) == 0 {
		return nil, newDataError("", "archive contains no file matching a declared catalog")
	}
	return set, nil
}

// matchCatalog empareja por nombre base sin extensión; si solo hay un catálogo
// declarado, cualquier fichero le pertenece.
func matchCatalog(model *domain.RuleModel, filename string) *domain.Catalog {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if cat, ok := model.Catalogs[base]; ok {
		return cat
	}
	if len(model.Catalogs) == 1 {
		for _, cat := range model.Catalogs {
			return cat
		}
	}
	return nil
}

// ReadDataset parsea el contenido de un catálogo según su formato declarado.
func ReadDataset(cat *domain.Catalog, filename string, payload []byte) (*Dataset, error) {
	var records [][]string
	var err error

	switch cat.Format.Type {
	case domain.FormatDelimited, domain.FormatArchive:
		records, err = readDelimited(cat, payload)
	case domain.FormatSpreadsheet:
		records, err = readSpreadsheet(cat, payload)
	default:
		return nil, newDataError(cat.Name, "unsupported format %q", cat.Format.Type)
	}
	if err != nil {
		return nil, err
	}

	var columns []string
	if cat.Format.Header {
		if len(records) == 0 {
			return nil, newDataError(cat.Name, "file %q is empty, expected a header row", filename)
		}
		columns = make([]string, len(records[0]))
		for i, c := range records[0] {
			columns[i] = strings.TrimSpace(c)
		}
		records = records[1:]
	} else {
		// Sin cabecera: las columnas son las declaradas, en orden.
		columns = make([]string, len(cat.Fields))
		for i := range cat.Fields {
			columns[i] = cat.Fields[i].Name
		}
	}

	// El esquema declarado debe estar presente; lo contrario es un desajuste
	// de esquema y la evaluación no puede completarse.
	idx := make(map[string]bool, len(columns))
	for _, c := range columns {
		idx[c] = true
	}
	for i := range cat.Fields {
		if !idx[cat.Fields[i].Name] {
			return nil, newDataError(cat.Name, "declared field %q missing from file %q", cat.Fields[i].Name, filename)
		}
	}

	for n, rec := range records {
		if len(rec) != len(columns) {
			return nil, newDataError(cat.Name, "row %d has %d columns, expected %d", n+1, len(rec), len(columns))
		}
	}

	return newDataset(cat.Name, columns, records), nil
}

func readDelimited(cat *domain.Catalog, payload []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	if cat.Format.Delimiter != "" {
		r.Comma = []rune(cat.Format.Delimiter)[0]
	}
	r.FieldsPerRecord = -1 // el chequeo de anchura lo hacemos nosotros, con catálogo en el error
	records, err := r.ReadAll()
	if err != nil {
		return nil, newDataError(cat.Name, "malformed delimited file: %v", err)
	}
	return records, nil
}

func readSpreadsheet(cat *domain.Catalog, payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, newDataError(cat.Name, "unreadable spreadsheet: %v", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, newDataError(cat.Name, "cannot read sheet %q: %v", sheet, err)
	}

	// excelize recorta celdas finales vacías; se normaliza a ancho fijo.
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows, nil
}
