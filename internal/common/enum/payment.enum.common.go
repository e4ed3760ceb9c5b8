package enum

import "time"

/*----------- PaymentTypeEnum -----------*/

type PaymentTypeEnum string

const (
	QRIS      PaymentTypeEnum = "qris"
	BCA       PaymentTypeEnum = "bca"
	BNI       PaymentTypeEnum = "bni"
	BRI       PaymentTypeEnum = "bri"
	PERMATA   PaymentTypeEnum = "permata"
	CIMB      PaymentTypeEnum = "cimb"
	INDOMARET PaymentTypeEnum = "indomaret"
	ALFAMART  PaymentTypeEnum = "alfamart"
)

func (e PaymentTypeEnum) ToString() string {
	return string(e)
}

func (e PaymentTypeEnum) IsValid() bool {
	switch e {
	case QRIS, BCA, BNI, BRI, PERMATA, CIMB, INDOMARET, ALFAMART:
		return true
	}
	return false
}

// Family tells which confirmation protocol a payment type settles through.
func (e PaymentTypeEnum) Family() PaymentFamilyEnum {
	switch e {
	case QRIS:
		return PUSH
	case BCA, BNI, BRI, PERMATA, CIMB:
		return POLL
	case INDOMARET, ALFAMART:
		return MANUAL
	}
	return ""
}

// Label is the buyer-facing name of the method.
func (e PaymentTypeEnum) Label() string {
	switch e {
	case QRIS:
		return "QRIS"
	case BCA:
		return "BCA Virtual Account"
	case BNI:
		return "BNI Virtual Account"
	case BRI:
		return "BRI Virtual Account"
	case PERMATA:
		return "Permata Virtual Account"
	case CIMB:
		return "CIMB Niaga Virtual Account"
	case INDOMARET:
		return "Indomaret"
	case ALFAMART:
		return "Alfamart"
	}
	return ""
}

/*----------- PaymentFamilyEnum -----------*/

type PaymentFamilyEnum string

const (
	PUSH   PaymentFamilyEnum = "push"
	POLL   PaymentFamilyEnum = "poll"
	MANUAL PaymentFamilyEnum = "manual"
)

func (e PaymentFamilyEnum) ToString() string {
	return string(e)
}

func (e PaymentFamilyEnum) IsValid() bool {
	switch e {
	case PUSH, POLL, MANUAL:
		return true
	}
	return false
}

// DefaultWindow is the payment window assumed when the gateway does not
// return an expiry.
func (e PaymentFamilyEnum) DefaultWindow() time.Duration {
	switch e {
	case PUSH:
		return 15 * time.Minute
	default:
		return 24 * time.Hour
	}
}

/*----------- TransactionStatusEnum -----------*/

type TransactionStatusEnum string

const (
	PENDING   TransactionStatusEnum = "PENDING"
	PAID      TransactionStatusEnum = "PAID"
	FAILED    TransactionStatusEnum = "FAILED"
	EXPIRED   TransactionStatusEnum = "EXPIRED"
	CANCELLED TransactionStatusEnum = "CANCELLED"
)

func (e TransactionStatusEnum) ToString() string {
	return string(e)
}

func (e TransactionStatusEnum) IsValid() bool {
	switch e {
	case PENDING, PAID, FAILED, EXPIRED, CANCELLED:
		return true
	}
	return false
}

func (e TransactionStatusEnum) IsTerminal() bool {
	switch e {
	case PAID, FAILED, EXPIRED, CANCELLED:
		return true
	}
	return false
}

/*----------- GatewayDriverEnum -----------*/

type GatewayDriverEnum string

const (
	REST     GatewayDriverEnum = "rest"
	MIDTRANS GatewayDriverEnum = "midtrans"
)

func (e GatewayDriverEnum) IsValid() bool {
	switch e {
	case REST, MIDTRANS:
		return true
	}
	return false
}
