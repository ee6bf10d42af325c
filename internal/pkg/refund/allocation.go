// Package refund splits a refund between the platform fee and the host payable.
package refund

// ProportionalAmount returns round-half-up(base*refundAmount/gross). Any
// non-positive input yields 0 and the result never leaves [0, base].
func ProportionalAmount(base, refundAmount, gross int64) int64 {
	if base <= 0 || refundAmount <= 0 || gross <= 0 {
		return 0
	}
	if refundAmount >= gross {
		return base
	}
	v := (base*refundAmount + gross/2) / gross
	if v < 0 {
		return 0
	}
	if v > base {
		return base
	}
	return v
}

// Snapshot is the state of a payment needed to allocate one more refund.
type Snapshot struct {
	Gross               int64
	PlatformFee         int64
	HostPayable         int64
	RefundedPlatformFee int64
	ReversedHostPayable int64
}

type Allocation struct {
	RefundPlatformFee  int64
	ReverseHostPayable int64
}

// Allocate distributes refundAmount. The platform share is proportional to
// the gross and capped by the fee not yet refunded; the rest is reversed from
// the host payable, capped by what remains of it.
func Allocate(s Snapshot, refundAmount int64) Allocation {
	if refundAmount <= 0 {
		return Allocation{}
	}
	if refundAmount > s.Gross {
		refundAmount = s.Gross
	}

	fee := ProportionalAmount(s.PlatformFee, refundAmount, s.Gross)
	if left := s.PlatformFee - s.RefundedPlatformFee; fee > left {
		fee = max(left, 0)
	}

	reverse := refundAmount - fee
	if left := s.HostPayable - s.ReversedHostPayable; reverse > left {
		reverse = max(left, 0)
	}
	return Allocation{RefundPlatformFee: fee, ReverseHostPayable: reverse}
}
