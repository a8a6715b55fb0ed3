package history

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"otcledger/native/otc"
)

// ArchivedOrder is the compact row kept after an order leaves the live index.
// Only terminal facts survive; commitments and escrow details do not.
type ArchivedOrder struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	OrderID     uint64 `gorm:"uniqueIndex"`
	MakerID     string `gorm:"index"`
	Maker       string `gorm:"index"`
	Taker       string `gorm:"index"`
	Qty         string
	AmountUSD   uint64
	FinalState  string
	CreatedAt   int64
	CompletedAt int64
	ArchivedAt  time.Time
}

// Store persists archived orders through gorm.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite archive at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: nil database")
	}
	if err := db.AutoMigrate(&ArchivedOrder{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// ArchiveOrder writes the order's compact facts. Re-archiving the same order
// id is idempotent.
func (s *Store) ArchiveOrder(order *otc.Order) error {
	if s == nil || s.db == nil {
		return errors.New("history: store not initialised")
	}
	if order == nil {
		return errors.New("history: nil order")
	}
	qty := "0"
	if order.Qty != nil {
		qty = order.Qty.String()
	}
	row := ArchivedOrder{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		MakerID:     order.MakerID,
		Maker:       hex.EncodeToString(order.Maker[:]),
		Taker:       hex.EncodeToString(order.Taker[:]),
		Qty:         qty,
		AmountUSD:   order.AmountUSD,
		FinalState:  order.State.String(),
		CreatedAt:   order.CreatedAt,
		CompletedAt: order.CompletedAt,
		ArchivedAt:  time.Now().UTC(),
	}
	err := s.db.Create(&row).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// OrderByID fetches one archived order by its original order id.
func (s *Store) OrderByID(orderID uint64) (*ArchivedOrder, error) {
	var row ArchivedOrder
	err := s.db.Where("order_id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Recent returns up to limit archived orders, newest first.
func (s *Store) Recent(limit int) ([]ArchivedOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ArchivedOrder
	err := s.db.Order("archived_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}
