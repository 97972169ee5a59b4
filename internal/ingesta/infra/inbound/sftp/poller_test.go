package sftp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/ingesta/application"
	"github.com/davicafu/casillero/internal/ingesta/domain"
	"github.com/davicafu/casillero/tests/mocks"
)

const specProductos = `
catalogs:
  productos:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - name: producto_id
        type: text
        required: true
`

type pollerFixture struct {
	root   string
	execs  *mocks.InMemoryExecutionRepo
	dir    *mocks.InMemoryCasillaDirectory
	poller *Poller
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()
	f := &pollerFixture{
		root:  t.TempDir(),
		execs: mocks.NewInMemoryExecutionRepo(),
		dir:   mocks.NewInMemoryCasillaDirectory(),
	}
	service := application.NewPipelineService(
		f.execs, f.dir, mocks.NewInMemoryArchivoStore(), mocks.NewInMemoryEventRepo(),
		nil, nil, 2, zap.NewNop())
	f.poller = NewPoller(NewLocalDirRemote(f.root), service, time.Second, zap.NewNop())
	return f
}

func (f *pollerFixture) addCasilla(t *testing.T) *domain.Casilla {
	t.Helper()
	c := &domain.Casilla{
		ID:       uuid.New(),
		Nombre:   "Casilla sftp",
		Active:   true,
		RuleSpec: []byte(specProductos),
	}
	f.dir.Casillas[c.ID] = c
	f.dir.Canales = append(f.dir.Canales, &domain.EmisorCanal{
		EmisorID:  uuid.New(),
		CasillaID: c.ID,
		Canal:     domain.CanalSFTP,
		Active:    true,
	})
	return c
}

// dropFile deja un fichero en el directorio de entrega por defecto de la
// casilla (data/{casillaID}).
func (f *pollerFixture) dropFile(t *testing.T, c *domain.Casilla, name, content string) string {
	t.Helper()
	dir := filepath.Join(f.root, "data", c.ID.String())
	require.NoError(t, os.MkdirAll(dir, 0755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestPoll_ProcessesAndMovesFile(t *testing.T) {
	f := newPollerFixture(t)
	casilla := f.addCasilla(t)
	src := f.dropFile(t, casilla, "productos.csv", "producto_id\nPROD-001\n")

	f.poller.Poll(context.Background())

	// Ejecución registrada por el canal sftp.
	require.Len(t, f.execs.Execs, 1)
	var exec *domain.Execution
	for _, e := range f.execs.Execs {
		exec = e
	}
	assert.Equal(t, domain.CanalSFTP, exec.Canal)
	assert.Equal(t, "productos.csv", exec.Filename)
	assert.Equal(t, domain.StatusSuccess, exec.Status)
	require.NotNil(t, exec.EmisorID)

	// El original desapareció del directorio de entrega.
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	// Y está archivado bajo procesado/{casillaID}/ con prefijo de instante.
	moved, err := os.ReadDir(filepath.Join(f.root, "procesado", casilla.ID.String()))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Contains(t, moved[0].Name(), "productos.csv")
}

func TestPoll_FailedExecutionStillMovesFile(t *testing.T) {
	f := newPollerFixture(t)
	casilla := f.addCasilla(t)
	// Esquema roto: la ejecución queda failed pero registrada.
	f.dropFile(t, casilla, "productos.csv", "columna_equivocada\nx\n")

	f.poller.Poll(context.Background())

	require.Len(t, f.execs.Execs, 1)
	for _, exec := range f.execs.Execs {
		assert.Equal(t, domain.StatusFailed, exec.Status)
	}
	// La ejecución existe, así que el fichero también se archiva.
	moved, err := os.ReadDir(filepath.Join(f.root, "procesado", casilla.ID.String()))
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestPoll_ProcessErrorLeavesFileInPlace(t *testing.T) {
	f := newPollerFixture(t)
	casilla := f.addCasilla(t)
	// Documento de reglas roto: Process falla antes de registrar ejecución.
	casilla.RuleSpec = []byte("catalogs: {}\n")
	src := f.dropFile(t, casilla, "productos.csv", "producto_id\nPROD-001\n")

	f.poller.Poll(context.Background())

	assert.Empty(t, f.execs.Execs)
	// Sin ejecución no hay commit: el fichero espera el siguiente ciclo.
	_, err := os.Stat(src)
	assert.NoError(t, err)
}

func TestPoll_InactiveChannelIgnored(t *testing.T) {
	f := newPollerFixture(t)
	casilla := f.addCasilla(t)
	f.dir.Canales[0].Active = false
	src := f.dropFile(t, casilla, "productos.csv", "producto_id\nPROD-001\n")

	f.poller.Poll(context.Background())

	assert.Empty(t, f.execs.Execs)
	_, err := os.Stat(src)
	assert.NoError(t, err)
}

func TestPoll_CustomRemoteDirectory(t *testing.T) {
	f := newPollerFixture(t)
	f.addCasilla(t)
	f.dir.Canales[0].RemoteDirectory = "entregas/especial"

	dir := filepath.Join(f.root, "entregas", "especial")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "productos.csv"), []byte("producto_id\nPROD-001\n"), 0644))

	f.poller.Poll(context.Background())

	assert.Len(t, f.execs.Execs, 1)
}

func TestPoll_EmptyDirectoryIsQuiet(t *testing.T) {
	f := newPollerFixture(t)
	f.addCasilla(t)

	// Directorio inexistente: List devuelve vacío sin error.
	f.poller.Poll(context.Background())
	assert.Empty(t, f.execs.Execs)
}
