package domain

// PaymentStatus mirrors the processor's payment-intent lifecycle.
type PaymentStatus string

const (
	PaymentStatusSucceeded             PaymentStatus = "succeeded"
	PaymentStatusProcessing            PaymentStatus = "processing"
	PaymentStatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentStatusRequiresConfirmation  PaymentStatus = "requires_confirmation"
	PaymentStatusRequiresAction        PaymentStatus = "requires_action"
	PaymentStatusRequiresCapture       PaymentStatus = "requires_capture"
	PaymentStatusCanceled              PaymentStatus = "canceled"
)

// Correlation metadata keys attached to every payment intent.
const (
	MetadataLedgerEntryID = "ledgerEntryId"
	MetadataAccountID     = "accountId"
)

// PaymentIntent is the processor-side view of one attempted charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       PaymentStatus
	Amount       int64
	Currency     string
	Metadata     map[string]string
}
