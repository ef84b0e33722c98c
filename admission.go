package smartmailer

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AllGroups is the canonical target group that admits every valid recipient.
const AllGroups = "ALL"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail reports whether addr matches the accepted address grammar:
// local-part "@" domain-labels "." tld, with a tld of at least two letters.
func IsValidEmail(addr string) bool {
	return emailPattern.MatchString(addr)
}

// CanonicalGroup returns the canonical (upper-case) form of a group code.
func CanonicalGroup(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// Rejection describes a record that failed admission.
type Rejection struct {
	// Index is the position of the record in the input.
	Index int

	// Email is the offending address as it appeared in the record.
	Email string

	// Err explains why the record was rejected.
	Err error
}

// Admission is the result of admitting a recipient set.
type Admission struct {
	// Accepted holds valid recipients matching the target group, in input order.
	Accepted []Recipient

	// Rejections holds records that failed validation.
	Rejections []Rejection

	// Admitted is the number of records that passed validation, before group filtering.
	Admitted int

	// Filtered is the number of valid records excluded by the group filter.
	Filtered int
}

// Rejected returns the number of rejected records.
func (a Admission) Rejected() int {
	return len(a.Rejections)
}

// Admit validates rows and filters them by target group. It returns the
// accepted recipients in input order and the number of rejected rows.
func Admit(rows []Record, targetGroup string) ([]Recipient, int) {
	a := AdmitRecords(rows, targetGroup)
	return a.Accepted, a.Rejected()
}

// AdmitRecords validates rows and filters them by target group, keeping
// per-row diagnostics. A bad row never aborts the batch.
func AdmitRecords(rows []Record, targetGroup string) Admission {
	target := CanonicalGroup(targetGroup)
	all := target == AllGroups

	var a Admission
	for i, row := range rows {
		r, err := admitRecord(row)
		if err != nil {
			email, _ := row.Lookup(FieldEmail)
			a.Rejections = append(a.Rejections, Rejection{Index: i, Email: email, Err: err})
			continue
		}

		a.Admitted++
		if !all && r.GroupCode != target {
			a.Filtered++
			continue
		}
		a.Accepted = append(a.Accepted, r)
	}

	return a
}

func admitRecord(row Record) (Recipient, error) {
	for _, field := range []string{FieldEmail, FieldName, FieldGroupCode} {
		if _, ok := row.Lookup(field); !ok {
			return Recipient{}, &ValidationError{Field: field, Message: "field is missing", Cause: ErrMissingField}
		}
	}

	email := strings.TrimSpace(row[FieldEmail])
	if !IsValidEmail(email) {
		return Recipient{}, &ValidationError{Field: FieldEmail, Message: "address does not match grammar", Value: email, Cause: ErrInvalidEmail}
	}

	return Recipient{
		Email:     email,
		Name:      strings.TrimSpace(row[FieldName]),
		GroupCode: CanonicalGroup(row[FieldGroupCode]),
	}, nil
}
