package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/medreminder/internal/model"
)

type MedicationStore struct {
	db *sql.DB
}

func NewMedicationStore(db *sql.DB) *MedicationStore {
	return &MedicationStore{db: db}
}

func scanMedication(scanner interface{ Scan(...any) error }) (*model.Medication, error) {
	var m model.Medication
	var stock sql.NullInt64
	var notified int
	err := scanner.Scan(&m.ID, &m.OwnerID, &m.Name, &m.DoseUnit, &stock, &notified, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if stock.Valid {
		n := int(stock.Int64)
		m.Stock = &n
	}
	m.LowStockNotified = notified != 0
	return &m, nil
}

const medicationCols = `id, owner_id, name, dose_unit, stock, low_stock_notified, created_at`

func (s *MedicationStore) Create(ctx context.Context, ownerID, name, doseUnit string, stock *int) (*model.Medication, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO medications (owner_id, name, dose_unit, stock) VALUES (?, ?, ?, ?)`,
		ownerID, name, doseUnit, stock,
	)
	if err != nil {
		return nil, fmt.Errorf("insert medication: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MedicationStore) GetByID(ctx context.Context, id int64) (*model.Medication, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+medicationCols+` FROM medications WHERE id = ?`, id)
	m, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (s *MedicationStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicationCols+` FROM medications WHERE owner_id = ? ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()

	var meds []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, *m)
	}
	return meds, rows.Err()
}

// DecrementStock lowers tracked stock by amount, never below zero. Untracked
// stock (NULL) is left alone.
func (s *MedicationStore) DecrementStock(ctx context.Context, id int64, amount int) (*model.Medication, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE medications SET stock = MAX(stock - ?, 0) WHERE id = ? AND stock IS NOT NULL`,
		amount, id,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	return s.GetByID(ctx, id)
}

// SetStock replaces the stock count and re-arms the low stock notification.
func (s *MedicationStore) SetStock(ctx context.Context, id int64, stock *int) (*model.Medication, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE medications SET stock = ?, low_stock_notified = 0 WHERE id = ?`,
		stock, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set stock: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ClaimLowStockNotice flips the low stock flag and reports whether this caller
// flipped it, so only one notification goes out per depletion.
func (s *MedicationStore) ClaimLowStockNotice(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE medications SET low_stock_notified = 1 WHERE id = ? AND low_stock_notified = 0`, id)
	if err != nil {
		return false, fmt.Errorf("claim low stock notice: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
