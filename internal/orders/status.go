package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusPreparing  Status = "preparing"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusDelivering, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

var validNext = map[Kind]map[Status]map[Status]bool{
	KindDelivery: {
		StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed:  {StatusPreparing: true, StatusCancelled: true},
		StatusPreparing:  {StatusDelivering: true, StatusCancelled: true},
		StatusDelivering: {StatusCompleted: true, StatusCancelled: true},
		StatusCompleted:  {},
		StatusCancelled:  {},
	},
	KindPickup: {
		StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusPreparing: true, StatusCancelled: true},
		StatusPreparing: {StatusCompleted: true, StatusCancelled: true},
		StatusCompleted: {},
		StatusCancelled: {},
	},
}

func CanTransition(kind Kind, from, to Status) bool {
	return validNext[kind][from][to]
}

// NextStatuses lists the statuses reachable from s, for admin UIs.
func NextStatuses(kind Kind, from Status) []Status {
	order := []Status{StatusConfirmed, StatusPreparing, StatusDelivering, StatusCompleted, StatusCancelled}
	var out []Status
	for _, s := range order {
		if validNext[kind][from][s] {
			out = append(out, s)
		}
	}
	return out
}
