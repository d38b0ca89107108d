package book

import "time"

// Status is the derived availability of a book title.
type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusUnavailable Status = "UNAVAILABLE"
)

// Loan is an active assignment of one copy of a book to one user.
type Loan struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	UserEmail  string    `json:"user_email"`
	AssignedAt time.Time `json:"assigned_at"`
	DueAt      time.Time `json:"due_at"`
}

// Record is the persisted document for one book title. Loans is the
// single source of truth for active assignments, kept in assignment
// order. Version is the optimistic-locking counter owned by the
// persistence adapter.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	TotalCopies int    `json:"total_copies"`
	Loans       []Loan `json:"loans"`
	Version     int64  `json:"-"`
}

// Status derives availability from the loan count. Never stored.
func (r *Record) Status() Status {
	if len(r.Loans) < r.TotalCopies {
		return StatusAvailable
	}
	return StatusUnavailable
}

// FindLoan returns the active loan held by userID, or nil.
func (r *Record) FindLoan(userID string) *Loan {
	for i := range r.Loans {
		if r.Loans[i].UserID == userID {
			return &r.Loans[i]
		}
	}
	return nil
}

// Clone returns a deep copy so ledger operations can produce a new
// snapshot without aliasing the input's loan slice.
func (r *Record) Clone() *Record {
	c := *r
	c.Loans = make([]Loan, len(r.Loans))
	copy(c.Loans, r.Loans)
	return &c
}
