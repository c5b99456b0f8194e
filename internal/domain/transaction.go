package domain

import "time"

type TransactionType string

const (
	TransactionTypePlaceOrder  TransactionType = "PlaceOrder"
	TransactionTypeReturnOrder TransactionType = "ReturnOrder"
)

type TransactionStatus string

const (
	TransactionStatusInProgress TransactionStatus = "InProgress"
	TransactionStatusConfirmed  TransactionStatus = "Confirmed"
	TransactionStatusExpired    TransactionStatus = "Expired"
	TransactionStatusCanceled   TransactionStatus = "Canceled"
)

// TasksExportationStatus governs at-most-once emission of a terminal
// transaction's tasks; it moves independently of TransactionStatus.
type TasksExportationStatus string

const (
	TasksUnexported TasksExportationStatus = "Unexported"
	TasksExporting  TasksExportationStatus = "Exporting"
	TasksExported   TasksExportationStatus = "Exported"
)

// CustomerContact is the purchaser contact captured before confirmation.
type CustomerContact struct {
	LastName  string
	FirstName string
	Email     string
	// Telephone is stored in E.164 form.
	Telephone string
}

// TransactionObject is the mutable working state of an in-progress
// transaction. Authorize actions live in their own rows keyed by the
// transaction id, not here.
type TransactionObject struct {
	CustomerContact *CustomerContact
	PassportToken   string
	PurchaserGroup  string
	// OrderNumber is set only on ReturnOrder transactions and names the
	// order being returned.
	OrderNumber string
	Forcibly    bool
}

// TransactionResult is immutable once set and present iff the transaction
// is Confirmed.
type TransactionResult struct {
	Order Order
}

// Transaction is a purchase-in-progress (PlaceOrder) or a return
// (ReturnOrder) aggregate.
type Transaction struct {
	ID      string
	TypeOf  TransactionType
	Status  TransactionStatus
	AgentID string
	Seller  Seller
	Object  TransactionObject
	Result  *TransactionResult
	Expires time.Time

	StartDate time.Time
	EndDate   *time.Time

	TasksExportationStatus TasksExportationStatus
	TasksExportedAt        *time.Time
}

// Seller is the merchant the transaction is placed against.
type Seller struct {
	ID         string
	Identifier string
	Name       string
}

type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "CreditCard"
	PaymentMethodCash       PaymentMethod = "Cash"
)

// AcceptedOffer is one reserved seat as it appears on a confirmed order.
type AcceptedOffer struct {
	Reservation TmpReservation
	// Price in minor units.
	Price int64
}

// Order is the immutable artifact of a confirmed PlaceOrder transaction,
// including the settlement artifacts the asynchronous handlers need
// (gateway access credentials, engine transaction ids). ReturnedAt is
// the only field written after creation.
type Order struct {
	OrderNumber        string
	ConfirmationNumber int64
	AcceptedOffers     []AcceptedOffer
	PaymentMethod      PaymentMethod
	// Price is the order total in minor units.
	Price     int64
	Customer  CustomerContact
	OrderDate time.Time

	PaymentOrderID       string
	PaymentAccessID      string
	PaymentAccessPass    string
	EngineTransactionIDs []string
	ReturnedAt           *time.Time
}
