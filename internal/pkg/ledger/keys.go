package ledger

import "fmt"

func BalanceTxFeeKey(balanceTxID string) string {
	return "stripe:balance_tx.fee:" + balanceTxID
}

func PlatformFeeKey(paymentID uint) string {
	return fmt.Sprintf("ledger:platform_fee:%d", paymentID)
}

func HostPayableKey(paymentID uint) string {
	return fmt.Sprintf("ledger:host_payable:%d", paymentID)
}

func RefundKey(refundID string) string {
	return "stripe:refund:" + refundID
}

func PlatformFeeReversalKey(refundID string) string {
	return "ledger:platform_fee_reversal:" + refundID
}

func HostPayableReversalKey(refundID string) string {
	return "ledger:host_payable_reversal:" + refundID
}

func DisputeLostKey(disputeID string) string {
	return "stripe:dispute_lost:" + disputeID
}
