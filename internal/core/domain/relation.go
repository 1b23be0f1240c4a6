package domain

// TargetKind : ce qu'un user peut suivre
type TargetKind string

const (
	TargetUser    TargetKind = "User"
	TargetChannel TargetKind = "Channel"
)

// Target est l'extrémité d'une relation FOLLOWS.
type Target struct {
	Kind TargetKind
	ID   string
}

func UserTarget(id string) Target    { return Target{Kind: TargetUser, ID: id} }
func ChannelTarget(id string) Target { return Target{Kind: TargetChannel, ID: id} }

type CreateChannelCmd struct {
	Title  string
	Status ChannelStatus
}
