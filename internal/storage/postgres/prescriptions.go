// Package postgres implements the prescription store on PostgreSQL.
//
// MarkDoseTaken is the one operation with a hard concurrency requirement:
// the increment is a single conditional UPDATE guarded by
// taken_doses < total_doses, so two racing requests can never both
// consume the final dose or push the counter past the total.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
	"github.com/careloop/go-medtrack/internal/infrastructure/outbox"
	"github.com/careloop/go-medtrack/internal/infrastructure/redpanda"
)

// PrescriptionRepo persists prescriptions, dose logs and their outbox
// events.
type PrescriptionRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPrescriptionRepo creates a new repository.
func NewPrescriptionRepo(pool *pgxpool.Pool, logger *zap.Logger) *PrescriptionRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionRepo{pool: pool, logger: logger}
}

var _ prescription.Repository = (*PrescriptionRepo)(nil)

const prescriptionColumns = `
	id, user_id, origin, medicine_name, dosage, frequency, duration,
	special_instructions, before_after_food, with_water, avoid_alcohol,
	start_date, end_date, times, total_doses, taken_doses, active,
	notify_enabled, reminder_minutes, created_at, updated_at
`

// Create inserts the prescription and its creation event in one
// transaction.
func (r *PrescriptionRepo) Create(ctx context.Context, p *prescription.Prescription) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = tx.Exec(ctx, query,
		p.ID, p.UserID, p.Origin, p.MedicineName, p.Dosage, p.Frequency, p.Duration,
		p.SpecialInstructions, p.BeforeAfterFood, p.WithWater, p.AvoidAlcohol,
		p.StartDate, p.EndDate, p.Times, p.TotalDoses, p.TakenDoses, p.Active,
		p.Notifications.Enabled, p.Notifications.ReminderMinutes, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	event, err := prescription.NewEvent(p.ID, p.UserID, prescription.EventPrescriptionCreated,
		&prescription.PrescriptionCreatedData{
			PrescriptionID: p.ID,
			MedicineName:   p.MedicineName,
			Dosage:         p.Dosage,
			Frequency:      p.Frequency,
			TotalDoses:     p.TotalDoses,
			Times:          p.Times,
			StartDate:      p.StartDate,
			EndDate:        p.EndDate,
			Origin:         p.Origin,
		})
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if err := writeEventToOutbox(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID loads a prescription with its dose logs.
func (r *PrescriptionRepo) GetByID(ctx context.Context, userID, id string) (*prescription.Prescription, error) {
	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE id = $1 AND user_id = $2
	`
	row := r.pool.QueryRow(ctx, query, id, userID)
	p, err := scanPrescription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, prescription.ErrNotFound
		}
		return nil, err
	}

	if err := r.attachDoseLogs(ctx, []*prescription.Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// ListByUser returns the user's prescriptions, newest first, with logs.
func (r *PrescriptionRepo) ListByUser(ctx context.Context, userID string) ([]*prescription.Prescription, error) {
	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prescriptions, err := scanPrescriptions(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachDoseLogs(ctx, prescriptions); err != nil {
		return nil, err
	}
	return prescriptions, nil
}

// ListActiveWithReminders returns reminder candidates across all users.
// Dose logs are not loaded; the matcher only needs the schedule.
func (r *PrescriptionRepo) ListActiveWithReminders(ctx context.Context) ([]*prescription.Prescription, error) {
	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE active AND notify_enabled AND cardinality(times) > 0
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPrescriptions(rows)
}

// Update applies an allow-listed partial edit.
func (r *PrescriptionRepo) Update(ctx context.Context, userID, id string, u prescription.Update) (*prescription.Prescription, error) {
	p, err := r.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	p.Apply(u, time.Now())

	query := `
		UPDATE prescriptions
		SET medicine_name = $3, dosage = $4, frequency = $5, duration = $6,
		    special_instructions = $7, before_after_food = $8, with_water = $9,
		    avoid_alcohol = $10, end_date = $11, times = $12, total_doses = $13,
		    taken_doses = $14, active = $15, notify_enabled = $16,
		    reminder_minutes = $17, updated_at = $18
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, id, userID,
		p.MedicineName, p.Dosage, p.Frequency, p.Duration,
		p.SpecialInstructions, p.BeforeAfterFood, p.WithWater,
		p.AvoidAlcohol, p.EndDate, p.Times, p.TotalDoses,
		p.TakenDoses, p.Active, p.Notifications.Enabled,
		p.Notifications.ReminderMinutes, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, prescription.ErrNotFound
	}
	return p, nil
}

// Delete removes the prescription; dose logs cascade.
func (r *PrescriptionRepo) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM prescriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prescription.ErrNotFound
	}
	return nil
}

// MarkDoseTaken performs the atomic increment, appends the dose log and
// writes the dose event to the outbox, all in one transaction.
func (r *PrescriptionRepo) MarkDoseTaken(ctx context.Context, userID, id string, in prescription.MarkDoseInput) (*prescription.Prescription, error) {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	hhmm := in.Time
	if hhmm == "" {
		hhmm = at.Format("15:04")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The WHERE clause is the concurrency guard: only one of N racing
	// transactions can consume each remaining dose.
	query := `
		UPDATE prescriptions
		SET taken_doses = taken_doses + 1,
		    active = taken_doses + 1 < total_doses,
		    updated_at = $3
		WHERE id = $1 AND user_id = $2 AND taken_doses < total_doses
		RETURNING medicine_name, taken_doses, total_doses, active
	`
	var medicineName string
	var taken, total int
	var active bool
	err = tx.QueryRow(ctx, query, id, userID, at.UTC()).Scan(&medicineName, &taken, &total, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMarkFailure(ctx, userID, id)
		}
		return nil, fmt.Errorf("increment dose: %w", err)
	}

	logID, err := insertDoseLog(ctx, tx, id, at, hhmm, in.Notes)
	if err != nil {
		return nil, err
	}

	event, err := prescription.NewEvent(id, userID, prescription.EventDoseTaken,
		&prescription.DoseTakenData{
			PrescriptionID: id,
			MedicineName:   medicineName,
			DoseLogID:      logID,
			Time:           hhmm,
			Notes:          in.Notes,
			TakenDoses:     taken,
			TotalDoses:     total,
			Completed:      !active,
			TakenAt:        at.UTC(),
		})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	if err := writeEventToOutbox(ctx, tx, event); err != nil {
		return nil, err
	}

	if !active {
		completed, err := prescription.NewEvent(id, userID, prescription.EventPrescriptionCompleted,
			map[string]interface{}{"prescription_id": id, "completed_at": at.UTC()})
		if err != nil {
			return nil, fmt.Errorf("build event: %w", err)
		}
		if err := writeEventToOutbox(ctx, tx, completed); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return r.GetByID(ctx, userID, id)
}

// classifyMarkFailure distinguishes an absent record from a completed
// one after the guarded update matched nothing.
func (r *PrescriptionRepo) classifyMarkFailure(ctx context.Context, userID, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prescriptions WHERE id = $1 AND user_id = $2)`,
		id, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("classify failure: %w", err)
	}
	if !exists {
		return prescription.ErrNotFound
	}
	return prescription.ErrAlreadyComplete
}

func insertDoseLog(ctx context.Context, tx pgx.Tx, prescriptionID string, at time.Time, hhmm, notes string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO dose_logs (prescription_id, taken_at, scheduled_time, taken, notes)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING id
	`, prescriptionID, at.UTC(), hhmm, notes).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert dose log: %w", err)
	}
	return id, nil
}

func writeEventToOutbox(ctx context.Context, tx pgx.Tx, event *prescription.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return outbox.WriteEntry(ctx, tx, &outbox.Entry{
		AggregateID:   event.PrescriptionID,
		AggregateType: "Prescription",
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    redpanda.TopicForEvent(event.EventType),
		KafkaKey:      event.PrescriptionID,
	})
}

// attachDoseLogs loads logs for the given prescriptions in one query.
func (r *PrescriptionRepo) attachDoseLogs(ctx context.Context, prescriptions []*prescription.Prescription) error {
	if len(prescriptions) == 0 {
		return nil
	}

	ids := make([]string, len(prescriptions))
	byID := make(map[string]*prescription.Prescription, len(prescriptions))
	for i, p := range prescriptions {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, prescription_id, taken_at, scheduled_time, taken, notes
		FROM dose_logs
		WHERE prescription_id = ANY($1)
		ORDER BY taken_at ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query dose logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var log prescription.DoseLog
		var prescriptionID string
		if err := rows.Scan(&log.ID, &prescriptionID, &log.Date, &log.Time, &log.Taken, &log.Notes); err != nil {
			return fmt.Errorf("scan dose log: %w", err)
		}
		if p, ok := byID[prescriptionID]; ok {
			p.DoseLogs = append(p.DoseLogs, log)
		}
	}
	return rows.Err()
}

func scanPrescription(row pgx.Row) (*prescription.Prescription, error) {
	p := &prescription.Prescription{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Origin, &p.MedicineName, &p.Dosage, &p.Frequency, &p.Duration,
		&p.SpecialInstructions, &p.BeforeAfterFood, &p.WithWater, &p.AvoidAlcohol,
		&p.StartDate, &p.EndDate, &p.Times, &p.TotalDoses, &p.TakenDoses, &p.Active,
		&p.Notifications.Enabled, &p.Notifications.ReminderMinutes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.DoseLogs == nil {
		p.DoseLogs = []prescription.DoseLog{}
	}
	return p, nil
}

func scanPrescriptions(rows pgx.Rows) ([]*prescription.Prescription, error) {
	var out []*prescription.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
