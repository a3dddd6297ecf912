package exports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/castline/backend/internal/models"
)

var csvHeader = []string{
	"submission_id", "submitted_at", "role", "first_name", "last_name", "email", "phone", "candidate_id",
}

// RenderCSV writes one row per submission, in the order given. roles names
// the role column; a submission whose role is missing gets an empty name.
func RenderCSV(w io.Writer, roles []models.Role, subs []models.Submission) error {
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range subs {
		phone := ""
		if s.Phone != nil {
			phone = *s.Phone
		}
		row := []string{
			s.ID,
			s.CreatedAt.UTC().Format(time.RFC3339),
			cell(names[s.RoleID]),
			cell(s.FirstName),
			cell(s.LastName),
			cell(s.Email),
			cell(phone),
			s.CandidateID,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", s.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// cell neutralizes values a spreadsheet would evaluate as a formula.
func cell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}
