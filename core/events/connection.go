package events

const KindConnectionStatusChanged Kind = "connection.status_changed"

type ConnectionStatusChanged struct {
	Base
	Status string
}

func NewConnectionStatusChanged(status string) ConnectionStatusChanged {
	return ConnectionStatusChanged{Base: NewBase(KindConnectionStatusChanged), Status: status}
}
