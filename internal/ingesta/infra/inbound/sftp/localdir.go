package sftp

import (
	"context"
	"os"
	"path/filepath"
)

// LocalDirRemote implementa RemoteDir sobre un directorio local. Cubre los
// despliegues donde el servidor sftp monta su raíz en el mismo host (o un
// volumen compartido) y sirve de doble del puerto en tests.
type LocalDirRemote struct {
	root string
}

func NewLocalDirRemote(root string) *LocalDirRemote {
	return &LocalDirRemote{root: root}
}

func (l *LocalDirRemote) List(ctx context.Context, dir string) ([]RemoteFile, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []RemoteFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, RemoteFile{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

func (l *LocalDirRemote) Download(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(l.root, path))
}

func (l *LocalDirRemote) Move(ctx context.Context, oldPath, newPath string) error {
	dst := filepath.Join(l.root, newPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(l.root, oldPath), dst)
}

// Verificación estática de la interfaz.
var _ RemoteDir = (*LocalDirRemote)(nil)
