package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// SaveFindings replaces a task's quality findings with the given batch.
// Each gate run supersedes the previous one.
func (s *Store) SaveFindings(ctx context.Context, taskID int64, findings []models.QualityFinding) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM quality_findings WHERE task_id = ?`, taskID); err != nil {
			return fmt.Errorf("failed to clear findings: %w", err)
		}
		for _, f := range findings {
			var file, rec any
			if f.File != "" {
				file = f.File
			}
			if f.Recommendation != "" {
				rec = f.Recommendation
			}
			var line any
			if f.Line != 0 {
				line = f.Line
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO quality_findings (task_id, gate, severity, file, line, message, recommendation)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				taskID, string(f.Gate), string(f.Severity), file, line, f.Message, rec); err != nil {
				return fmt.Errorf("failed to insert finding: %w", err)
			}
		}
		return nil
	})
}

// ListFindings returns a task's findings in insert order.
func (s *Store) ListFindings(ctx context.Context, taskID int64) ([]*models.QualityFinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, gate, severity, file, line, message, recommendation
		 FROM quality_findings WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()
	var findings []*models.QualityFinding
	for rows.Next() {
		var (
			f         models.QualityFinding
			gate, sev string
			file, rec sql.NullString
			line      sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.TaskID, &gate, &sev, &file, &line, &f.Message, &rec); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Gate = models.Gate(gate)
		f.Severity = models.Severity(sev)
		f.File = file.String
		f.Line = int(line.Int64)
		f.Recommendation = rec.String
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}
