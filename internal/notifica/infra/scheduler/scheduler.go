package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task es una unidad de trabajo periódica con nombre.
type Task struct {
	Name     string
	Schedule string // expresión cron o @every
	Run      func(ctx context.Context)

	entryID  cron.EntryID
	runCount int64
	lastRun  time.Time
}

// Scheduler agrupa los procesos periódicos del motor de notificaciones
// (fan-out, cierre de lotes, despacho) bajo un único cron con zona UTC.
type Scheduler struct {
	cron  *cron.Cron
	log   *zap.Logger
	mu    sync.Mutex
	tasks map[string]*Task
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithLocation(time.UTC)),
		log:   log,
		tasks: make(map[string]*Task),
	}
}

// Register añade una tarea. Every produce un schedule "@every <d>".
func (s *Scheduler) Register(name string, schedule string, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	s.tasks[name] = &Task{Name: name, Schedule: schedule, Run: run}
	return nil
}

// Every es un helper para cadencias fijas.
func Every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Start programa todas las tareas y arranca el cron. Las tareas reciben un
// contexto que se cancela al parar el scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		t := task
		entryID, err := s.cron.AddFunc(t.Schedule, func() {
			t.lastRun = time.Now().UTC()
			t.runCount++
			t.Run(ctx)
		})
		if err != nil {
			return fmt.Errorf("scheduling task %q: %w", t.Name, err)
		}
		t.entryID = entryID
		s.log.Info("⏲️ tarea programada",
			zap.String("tarea", t.Name),
			zap.String("schedule", t.Schedule))
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.log.Info("🛑 Scheduler detenido")
	}()

	return nil
}
