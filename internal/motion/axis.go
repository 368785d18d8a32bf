package motion

// Lockable is anything that can be claimed exclusively by a token.
type Lockable interface {
	Name() string
	Lock(token Token) bool
	Unlock(token Token) bool
}

// Axis is the contract consumed from the axis driver layer.
//
// The Check methods are check-and-lock: a result for which Status.OK is true
// leaves the axis locked by token. Do methods start the previously checked
// action and return without waiting; progress and completion are broadcast
// to observers tagged with the supplied command id.
type Axis interface {
	Lockable

	CheckMoveTo(target float64, token Token) Status
	CheckMoveBy(delta float64, token Token) Status
	CheckSetPosition(position float64, token Token) Status
	CheckHome(token Token) Status

	DoMove(token Token, id CommandID) error
	DoSet(token Token, id CommandID) error
	DoHome(token Token, id CommandID) error

	Stop() error
	IsMoving() bool
	Position() Position

	AddObserver(o Observer)
	RemoveObserver(o Observer)
}
