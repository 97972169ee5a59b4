package sftp

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/ingesta/application"
	"github.com/davicafu/casillero/internal/ingesta/domain"
)

// RemoteFile es una entrada de un directorio remoto.
type RemoteFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// RemoteDir abstrae el servidor de ficheros (SFTP, FTP, montaje de red). El
// poller solo necesita listar, descargar y mover.
type RemoteDir interface {
	List(ctx context.Context, dir string) ([]RemoteFile, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Move(ctx context.Context, oldPath, newPath string) error
}

// Poller recorre los directorios de entrega sftp de las casillas activas. Cada
// fichero se procesa en orden de llegada y se mueve a procesado/ solo después
// de que su ejecución quede registrada: si el proceso cae a mitad, el fichero
// sigue en data/ y se reprocesa (al-menos-una-vez; el log de ejecuciones
// tolera duplicados).
type Poller struct {
	remote   RemoteDir
	service  *application.PipelineService
	interval time.Duration
	log      *zap.Logger
}

func NewPoller(remote RemoteDir, service *application.PipelineService, interval time.Duration, log *zap.Logger) *Poller {
	return &Poller{
		remote:   remote,
		service:  service,
		interval: interval,
		log:      log,
	}
}

func (p *Poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.log.Info("🛑 Poller de sftp detenido")
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

// Poll procesa un ciclo completo. Exportado para tests.
func (p *Poller) Poll(ctx context.Context) {
	casillas, err := p.service.ListActiveCasillas(ctx)
	if err != nil {
		p.log.Warn("⚠️ no se pudieron listar casillas activas", zap.Error(err))
		return
	}

	for _, casilla := range casillas {
		p.pollCasilla(ctx, casilla)
	}
}

func (p *Poller) pollCasilla(ctx context.Context, casilla *domain.Casilla) {
	canales, err := p.service.AuthorizedChannels(ctx, casilla.ID, domain.CanalSFTP)
	if err != nil {
		p.log.Warn("⚠️ no se pudieron listar canales sftp",
			zap.String("casilla_id", casilla.ID.String()), zap.Error(err))
		return
	}

	for _, ec := range canales {
		if !ec.Active {
			continue
		}
		dir := ec.RemoteDirectory
		if dir == "" {
			dir = path.Join("data", casilla.ID.String())
		}
		p.pollDir(ctx, casilla, ec, dir)
	}
}

func (p *Poller) pollDir(ctx context.Context, casilla *domain.Casilla, ec *domain.EmisorCanal, dir string) {
	files, err := p.remote.List(ctx, dir)
	if err != nil {
		p.log.Warn("⚠️ error de transporte listando directorio",
			zap.String("dir", dir), zap.Error(err))
		return
	}

	// Orden de llegada.
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })

	for _, f := range files {
		payload, err := p.remote.Download(ctx, f.Path)
		if err != nil {
			p.log.Warn("⚠️ no se pudo descargar fichero, se reintentará",
				zap.String("path", f.Path), zap.Error(err))
			continue
		}

		emisorID := ec.EmisorID
		arrival := &domain.Arrival{
			CasillaID:  casilla.ID,
			EmisorID:   &emisorID,
			Canal:      domain.CanalSFTP,
			Filename:   f.Name,
			Payload:    payload,
			ReceivedAt: f.ModTime,
		}

		exec, err := p.service.Process(ctx, arrival)
		if err != nil {
			p.log.Warn("⚠️ no se pudo procesar fichero, se reintentará",
				zap.String("path", f.Path), zap.Error(err))
			continue
		}

		// Solo tras registrar la ejecución: el movimiento es el commit.
		dest := path.Join("procesado", casilla.ID.String(),
			fmt.Sprintf("%s-%s", exec.CreatedAt.UTC().Format("20060102T150405"), f.Name))
		if err := p.remote.Move(ctx, f.Path, dest); err != nil {
			p.log.Warn("⚠️ fichero procesado pero no se pudo mover; puede duplicarse",
				zap.String("path", f.Path), zap.Error(err))
		}
	}
}
