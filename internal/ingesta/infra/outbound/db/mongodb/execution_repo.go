package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/davicafu/casillero/internal/ingesta/domain"
	notifica "github.com/davicafu/casillero/internal/notifica/domain"
)

// ExecutionRepoMongoDB implementa ExecutionRepository sobre MongoDB. El log de
// ejecuciones es append-only, así que encaja bien en una colección sin updates.
type ExecutionRepoMongoDB struct {
	client      *mongo.Client
	execsColl   *mongo.Collection
	eventosColl *mongo.Collection
}

func NewExecutionRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*ExecutionRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	db := client.Database(dbName)
	return &ExecutionRepoMongoDB{
		client:      client,
		execsColl:   db.Collection("ejecuciones"),
		eventosColl: db.Collection("eventos"),
	}, nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoExecution struct {
	ID           uuid.UUID  `bson:"_id"`
	CasillaID    uuid.UUID  `bson:"casillaId"`
	EmisorID     *uuid.UUID `bson:"emisorId,omitempty"`
	Canal        string     `bson:"canal"`
	Filename     string     `bson:"fichero"`
	StoragePath  string     `bson:"rutaAlmacen"`
	Status       string     `bson:"estado"`
	ErrorCount   int        `bson:"errores"`
	WarningCount int        `bson:"avisos"`
	CreatedAt    time.Time  `bson:"createdAt"`
}

type mongoEvent struct {
	ID          uuid.UUID  `bson:"_id"`
	CasillaID   uuid.UUID  `bson:"casillaId"`
	EmisorID    *uuid.UUID `bson:"emisorId,omitempty"`
	ExecutionID *uuid.UUID `bson:"ejecucionId,omitempty"`
	Type        string     `bson:"tipo"`
	Message     string     `bson:"mensaje"`
	Detail      []byte     `bson:"detalle,omitempty"`
	Processed   bool       `bson:"processed"`
	CreatedAt   time.Time  `bson:"createdAt"`
}

func toMongoExecution(e *domain.Execution) mongoExecution {
	return mongoExecution{
		ID:           e.ID,
		CasillaID:    e.CasillaID,
		EmisorID:     e.EmisorID,
		Canal:        string(e.Canal),
		Filename:     e.Filename,
		StoragePath:  e.StoragePath,
		Status:       string(e.Status),
		ErrorCount:   e.ErrorCount,
		WarningCount: e.WarningCount,
		CreatedAt:    e.CreatedAt,
	}
}

func fromMongoExecution(m mongoExecution) *domain.Execution {
	return &domain.Execution{
		ID:           m.ID,
		CasillaID:    m.CasillaID,
		EmisorID:     m.EmisorID,
		Canal:        domain.Canal(m.Canal),
		Filename:     m.Filename,
		StoragePath:  m.StoragePath,
		Status:       domain.ExecutionStatus(m.Status),
		ErrorCount:   m.ErrorCount,
		WarningCount: m.WarningCount,
		CreatedAt:    m.CreatedAt,
	}
}

// --- Escritura transaccional ---

func (r *ExecutionRepoMongoDB) Create(ctx context.Context, exec *domain.Execution, events []*notifica.Event) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	// La transacción asegura que ejecución y eventos se insertan juntos.
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if _, err := r.execsColl.InsertOne(sessCtx, toMongoExecution(exec)); err != nil {
			return nil, err
		}
		for _, evt := range events {
			doc := mongoEvent{
				ID:          evt.ID,
				CasillaID:   evt.CasillaID,
				EmisorID:    evt.EmisorID,
				ExecutionID: evt.ExecutionID,
				Type:        string(evt.Type),
				Message:     evt.Message,
				Detail:      []byte(evt.Detail),
				Processed:   false,
				CreatedAt:   evt.CreatedAt,
			}
			if _, err := r.eventosColl.InsertOne(sessCtx, doc); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// --- Consultas ---

func (r *ExecutionRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	var m mongoExecution
	err := r.execsColl.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongoExecution(m), nil
}

func (r *ExecutionRepoMongoDB) List(ctx context.Context, f domain.ExecutionFilter) ([]*domain.Execution, error) {
	filter := bson.M{}
	if f.CasillaID != nil {
		filter["casillaId"] = *f.CasillaID
	}
	if f.EmisorID != nil {
		filter["emisorId"] = *f.EmisorID
	}
	if f.Status != nil {
		filter["estado"] = string(*f.Status)
	}
	if f.Since != nil {
		filter["createdAt"] = bson.M{"$gte": *f.Since}
	}

	limit := int64(f.Limit)
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(int64(f.Offset))

	cursor, err := r.execsColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var execs []*domain.Execution
	for cursor.Next(ctx) {
		var m mongoExecution
		if err := cursor.Decode(&m); err != nil {
			return nil, err
		}
		execs = append(execs, fromMongoExecution(m))
	}
	return execs, cursor.Err()
}

// Verificación estática de la interfaz.
var _ domain.ExecutionRepository = (*ExecutionRepoMongoDB)(nil)
