package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradedesk/src/database"
	"tradedesk/src/model"
)

// PositionRepository handles persistence of tracked positions.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new position.
func (r *PositionRepository) Create(
	ctx context.Context,
	position *model.Position,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "PositionRepository",
		"op":     "Create",
		"symbol": position.Symbol,
		"side":   position.Side,
	}).Debug("Creating new position")

	err := r.db.WithContext(ctx).Create(position).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create position")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
	}).Info("Position created successfully")

	return nil
}

// FindByID fetches a single position by its primary ID.
// Returns (nil, nil) if the position is not found.
func (r *PositionRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Position, error) {

	var position model.Position

	err := r.db.WithContext(ctx).First(&position, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch position by ID")

		return nil, err
	}

	return &position, nil
}

// FindOpenBySymbol fetches the open position of a connection on a symbol.
// Returns (nil, nil) if none is open.
func (r *PositionRepository) FindOpenBySymbol(
	ctx context.Context,
	connectionID uint,
	symbol string,
) (*model.Position, error) {

	var position model.Position

	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND symbol = ? AND status = ?",
			connectionID, symbol, model.PositionStatusOpen).
		Order("created_at DESC").
		First(&position).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":          "PositionRepository",
			"op":            "FindOpenBySymbol",
			"connection_id": connectionID,
			"symbol":        symbol,
		}).WithError(err).Error("Failed to fetch open position by symbol")

		return nil, err
	}

	return &position, nil
}

// FindOpenByConnection returns every open position of a connection.
func (r *PositionRepository) FindOpenByConnection(
	ctx context.Context,
	connectionID uint,
) ([]model.Position, error) {

	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND status = ?", connectionID, model.PositionStatusOpen).
		Order("created_at DESC").
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":          "PositionRepository",
			"op":            "FindOpenByConnection",
			"connection_id": connectionID,
		}).WithError(err).Error("Failed to fetch open positions for connection")

		return nil, err
	}

	return positions, nil
}

// FindByUser returns a user's positions, optionally filtered by status.
func (r *PositionRepository) FindByUser(
	ctx context.Context,
	userID uint,
	tenantID uint,
	status string,
) ([]model.Position, error) {

	q := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var positions []model.Position

	err := q.Order("created_at DESC").Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "PositionRepository",
			"op":        "FindByUser",
			"user_id":   userID,
			"tenant_id": tenantID,
		}).WithError(err).Error("Failed to fetch positions for user")

		return nil, err
	}

	return positions, nil
}

// UpdateMark refreshes the exchange-reported figures of an open position.
func (r *PositionRepository) UpdateMark(
	ctx context.Context,
	id uint,
	contracts float64,
	markPrice float64,
	liquidationPrice float64,
	unrealizedPnl float64,
	percentage float64,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "UpdateMark",
		"position_id": id,
		"mark_price":  markPrice,
	}).Debug("Updating position mark")

	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"contracts":         contracts,
			"mark_price":        markPrice,
			"liquidation_price": liquidationPrice,
			"unrealized_pnl":    unrealizedPnl,
			"percentage":        percentage,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "UpdateMark",
			"position_id": id,
		}).WithError(err).Error("Failed to update position mark")

		return err
	}

	return nil
}

// Close marks a position closed, keeping the realized PnL it ended with.
func (r *PositionRepository) Close(
	ctx context.Context,
	id uint,
	realizedPnl float64,
	closedAt time.Time,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":         "PositionRepository",
		"op":           "Close",
		"position_id":  id,
		"realized_pnl": realizedPnl,
	}).Info("Closing position")

	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.PositionStatusClosed,
			"contracts":      0.0,
			"unrealized_pnl": 0.0,
			"realized_pnl":   realizedPnl,
			"closed_at":      closedAt,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Close",
			"position_id": id,
		}).WithError(err).Error("Failed to close position")

		return err
	}

	return nil
}

// PositionTotals aggregates closed-position outcomes for a user.
type PositionTotals struct {
	Total       int64
	Wins        int64
	Losses      int64
	RealizedPnl float64
}

// SumClosed aggregates realized results over a user's closed positions.
func (r *PositionRepository) SumClosed(
	ctx context.Context,
	userID uint,
	tenantID uint,
) (*PositionTotals, error) {

	var totals PositionTotals

	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Select("COUNT(*) as total, "+
			"COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0) as wins, "+
			"COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0) as losses, "+
			"COALESCE(SUM(realized_pnl), 0) as realized_pnl").
		Where("user_id = ? AND tenant_id = ? AND status = ?",
			userID, tenantID, model.PositionStatusClosed).
		Scan(&totals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "PositionRepository",
			"op":        "SumClosed",
			"user_id":   userID,
			"tenant_id": tenantID,
		}).WithError(err).Error("Failed to sum closed positions")

		return nil, err
	}

	return &totals, nil
}
