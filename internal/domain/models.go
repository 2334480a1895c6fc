package domain

import "github.com/shopspring/decimal"

// Purpose discriminates whether a financial document attaches to a
// project or an appointment. A document never attaches to both.
type Purpose string

const (
	PurposeProject     Purpose = "project"
	PurposeAppointment Purpose = "appointment"
)

// Valid reports whether p is one of the two known purposes.
func (p Purpose) Valid() bool {
	return p == PurposeProject || p == PurposeAppointment
}

// Credentials carries the bearer-style credential used to authorize
// calls to the CRM backend. It is supplied explicitly by the caller
// and threaded through every fetch; nothing reads it from globals.
type Credentials struct {
	Token string
}

// Client is a CRM client reference. Read-only once fetched.
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Project belongs to exactly one client.
type Project struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ClientID string `json:"clientId"`
}

// Appointment belongs to exactly one client. Mutually exclusive with
// Project as the purpose of a document.
type Appointment struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

// Invoice is the selection-context view of an invoice: just enough to
// pick it and show what is still owed on it.
type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
}

// Selection is the cascading choice a dashboard form is built around:
// client, then project or appointment (per Purpose), then invoice.
//
// Invariants maintained by the selection engine:
//   - ProjectID and AppointmentID are never both non-empty.
//   - InvoiceID is non-empty only while the active purpose target is set.
//   - Changing ClientID clears everything downstream.
type Selection struct {
	ClientID      string  `json:"clientId"`
	Purpose       Purpose `json:"purpose"`
	ProjectID     string  `json:"projectId"`
	AppointmentID string  `json:"appointmentId"`
	InvoiceID     string  `json:"invoiceId"`
}

// ActiveTargetID returns the project or appointment id the current
// purpose points at.
func (s Selection) ActiveTargetID() string {
	if s.Purpose == PurposeAppointment {
		return s.AppointmentID
	}
	return s.ProjectID
}

// LineItem is one row of an invoice or quotation form.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

// Charges are the percentage adjustments applied to the item subtotal.
// Negative values are accepted; constraining them is the UI's job.
type Charges struct {
	DiscountPct decimal.Decimal `json:"discountPct"`
	TaxPct      decimal.Decimal `json:"taxPct"`
}

// Totals are derived from items and charges, never stored.
type Totals struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountedTotal decimal.Decimal `json:"discountedTotal"`
	Total           decimal.Decimal `json:"total"`
}

// DocumentDates holds the date pair the dashboard collects for a
// document: issue plus due (invoices) or issue plus expiry (quotes).
type DocumentDates struct {
	IssueDate string `json:"issueDate"`
	DueDate   string `json:"dueDate"`
}

// Set reports whether both dates of the pair are present.
func (d DocumentDates) Set() bool {
	return d.IssueDate != "" && d.DueDate != ""
}

// SubmitRequirements is supplied by the caller to say which parts of
// the form must be complete before a submit is allowed. The engine
// does not hard-code the combination.
type SubmitRequirements struct {
	RequireClient bool `json:"requireClient"`
	RequireDates  bool `json:"requireDates"`
	RequireTarget bool `json:"requireTarget"` // project or appointment, per purpose
	RequireItems  bool `json:"requireItems"`
}

// DefaultSubmitRequirements matches the invoice form: everything.
func DefaultSubmitRequirements() SubmitRequirements {
	return SubmitRequirements{
		RequireClient: true,
		RequireDates:  true,
		RequireTarget: true,
		RequireItems:  true,
	}
}

// ValidationReport is the outcome of a pre-submit validation pass.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// LoadingFlags expose which dependent slots have a fetch in flight.
// The flags are independent: invoices may still be loading while the
// project and appointment lists are already resolved.
type LoadingFlags struct {
	Projects     bool `json:"projects"`
	Appointments bool `json:"appointments"`
	Invoices     bool `json:"invoices"`
}

// SessionSnapshot is the full state the dashboard renders from.
type SessionSnapshot struct {
	SessionID string        `json:"sessionId"`
	Owner     string        `json:"owner,omitempty"`
	Selection Selection     `json:"selection"`
	Loading   LoadingFlags  `json:"loading"`
	Dates     DocumentDates `json:"dates"`

	Projects     []Project     `json:"projects"`
	Appointments []Appointment `json:"appointments"`
	Invoices     []Invoice     `json:"invoices"`

	Items   []LineItem `json:"items"`
	Charges Charges    `json:"charges"`
	Totals  Totals     `json:"totals"`

	// Warnings are non-fatal notices (typically failed dependent
	// fetches). They are cleared on read.
	Warnings []string `json:"warnings,omitempty"`
}

// SelectionMetrics is the snapshot served by GET /v1/metrics/selection.
type SelectionMetrics struct {
	SessionsCreated      int64   `json:"sessionsCreated"`
	FetchesIssued        int64   `json:"fetchesIssued"`
	FetchErrors          int64   `json:"fetchErrors"`
	StaleResultsDropped  int64   `json:"staleResultsDropped"`
	ReconciliationClears int64   `json:"reconciliationClears"`
	CacheHitRate         float64 `json:"cacheHitRate"`
	ErrorRate            float64 `json:"errorRate"`
	Period               string  `json:"period"`
}
