package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/chatrelay/internal/domain"
	"github.com/immxrtalbeast/chatrelay/internal/repository/model"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables used by the SQL repositories.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Room{}, &model.Message{})
}

type SQLRoomRepository struct {
	db *gorm.DB
}

func NewSQLRoomRepository(db *gorm.DB) *SQLRoomRepository {
	return &SQLRoomRepository{db: db}
}

func (r *SQLRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	const op = "repository.sql.room.create"

	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Room{}).Where("name = ?", room.Name).Count(&count).Error; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count > 0 {
		return ErrRoomExists
	}

	if err := r.db.WithContext(ctx).Create(toModelRoom(room)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrRoomExists
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *SQLRoomRepository) GetByName(ctx context.Context, name string) (*domain.Room, error) {
	const op = "repository.sql.room.get"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room model.Room
	err := r.db.WithContext(ctx).First(&room, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toDomainRoom(&room), nil
}

func (r *SQLRoomRepository) TouchActivity(ctx context.Context, name string, at time.Time) error {
	const op = "repository.sql.room.touch"

	if err := ctx.Err(); err != nil {
		return err
	}

	at = at.UTC()
	res := r.db.WithContext(ctx).
		Model(&model.Room{}).
		Where("name = ? AND last_activity < ?", name, at).
		Update("last_activity", at)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	return nil
}

func (r *SQLRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	const op = "repository.sql.room.list"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rooms []model.Room
	if err := r.db.WithContext(ctx).Order("last_activity DESC").Order("name").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*domain.Room, 0, len(rooms))
	for i := range rooms {
		result = append(result, toDomainRoom(&rooms[i]))
	}

	return result, nil
}

// Ping reports whether the underlying database answers.
func (r *SQLRoomRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type SQLMessageRepository struct {
	db    *gorm.DB
	clock *monotonicClock
}

func NewSQLMessageRepository(db *gorm.DB) *SQLMessageRepository {
	return &SQLMessageRepository{db: db, clock: newMonotonicClock()}
}

func (r *SQLMessageRepository) Append(ctx context.Context, room, username, text string) (*domain.Message, error) {
	const op = "repository.sql.message.append"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := domain.NewMessage(room, username, text, r.clock.Next())
	if err := r.db.WithContext(ctx).Create(toModelMessage(msg)).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return msg, nil
}

func (r *SQLMessageRepository) Recent(ctx context.Context, room string, limit int) ([]*domain.Message, error) {
	const op = "repository.sql.message.recent"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Where("room = ?", room).Order("sent_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		result = append(result, toDomainMessage(&rows[i]))
	}
	slices.Reverse(result)

	return result, nil
}

func toModelRoom(room *domain.Room) *model.Room {
	return &model.Room{
		Name:         room.Name,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt.UTC(),
		LastActivity: room.LastActivity.UTC(),
	}
}

func toDomainRoom(room *model.Room) *domain.Room {
	return &domain.Room{
		Name:         room.Name,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt.UTC(),
		LastActivity: room.LastActivity.UTC(),
	}
}

func toModelMessage(msg *domain.Message) *model.Message {
	return &model.Message{
		ID:       msg.ID.String(),
		Room:     msg.Room,
		Username: msg.Username,
		Text:     msg.Text,
		SentAt:   msg.Timestamp.UTC(),
	}
}

func toDomainMessage(msg *model.Message) *domain.Message {
	id, err := uuid.Parse(msg.ID)
	if err != nil {
		id = uuid.Nil
	}
	return &domain.Message{
		ID:        id,
		Room:      msg.Room,
		Username:  msg.Username,
		Text:      msg.Text,
		Timestamp: msg.SentAt.UTC(),
	}
}
