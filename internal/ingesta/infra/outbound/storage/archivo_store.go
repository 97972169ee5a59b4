package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/ingesta/domain"
)

// FilesystemArchivoStore guarda el payload original de cada llegada bajo un
// directorio por casilla. El nombre lleva el instante de recepción delante
// para que dos entregas del mismo fichero nunca se pisen.
type FilesystemArchivoStore struct {
	baseDir string
}

func NewFilesystemArchivoStore(baseDir string) *FilesystemArchivoStore {
	return &FilesystemArchivoStore{baseDir: baseDir}
}

// Save escribe el payload y devuelve la ruta registrada en la ejecución.
func (s *FilesystemArchivoStore) Save(ctx context.Context, casillaID uuid.UUID, filename string, payload []byte) (string, error) {
	dir := filepath.Join(s.baseDir, casillaID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating archivo dir: %w", err)
	}

	// filepath.Base evita que un nombre con rutas escape del directorio.
	name := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405.000"), filepath.Base(filename))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("writing archivo: %w", err)
	}
	return path, nil
}

// Verificación estática de la interfaz.
var _ domain.ArchivoStore = (*FilesystemArchivoStore)(nil)
