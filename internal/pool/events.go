package pool

type EventKind string

const (
	KindContributed EventKind = "contributed"
	KindRefunded    EventKind = "refunded"
	KindCapUpdated  EventKind = "cap_updated"
)

// Event is the flat record stored in the backend's event log, in commit order.
// Cap and Round are only meaningful for contributions and cap updates.
type Event struct {
	Seq    uint64
	Kind   EventKind
	User   Address
	Amount Amount
	Cap    Amount
	Round  uint64
	Height int64
}

// Contributed is emitted for every accepted contribution.
type Contributed struct {
	User       Address
	Amount     Amount
	CapAtTime  Amount
	RoundIndex uint64
	Height     int64
	// FundShare is what this contribution forwarded to the fund address.
	FundShare Amount
}

func (c Contributed) Event() Event {
	return Event{
		Kind:   KindContributed,
		User:   c.User,
		Amount: c.Amount,
		Cap:    c.CapAtTime,
		Round:  c.RoundIndex,
		Height: c.Height,
	}
}

// Refunded is emitted when a claim pays out a non-zero amount.
type Refunded struct {
	User        Address
	TotalAmount Amount
	// Through is the last round index settled by this claim.
	Through uint64
	Height  int64
}

func (r Refunded) Event() Event {
	return Event{
		Kind:   KindRefunded,
		User:   r.User,
		Amount: r.TotalAmount,
		Round:  r.Through,
		Height: r.Height,
	}
}

// CapUpdated records an owner cap change and the first round it applies to.
type CapUpdated struct {
	Caller    Address
	Cap       Amount
	FromRound uint64
	Height    int64
}

func (c CapUpdated) Event() Event {
	return Event{
		Kind:   KindCapUpdated,
		User:   c.Caller,
		Cap:    c.Cap,
		Round:  c.FromRound,
		Height: c.Height,
	}
}
