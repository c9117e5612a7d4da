package domain

type RoomID string

// Point is a position on the shared map, in map pixels.
type Point struct {
	X float64 `json:"x" mapstructure:"x"`
	Y float64 `json:"y" mapstructure:"y"`
}

// Doorway links a room to a neighbour. It is purely descriptive: the client
// walks through it, the server never enforces it.
type Doorway struct {
	Direction  string  `json:"direction" mapstructure:"direction"`
	X          float64 `json:"x" mapstructure:"x"`
	Y          float64 `json:"y" mapstructure:"y"`
	Width      float64 `json:"width" mapstructure:"width"`
	TargetRoom RoomID  `json:"targetRoom" mapstructure:"targetRoom"`
}

// Room is the static description of one room. Runtime membership lives in the
// relay, not here.
type Room struct {
	RoomID     RoomID    `json:"roomId" mapstructure:"roomId"`
	Name       string    `json:"name" mapstructure:"name"`
	SpawnPoint Point     `json:"spawnPoint" mapstructure:"spawnPoint"`
	Doorways   []Doorway `json:"doorways" mapstructure:"doorways"`
	Color      string    `json:"color" mapstructure:"color"`
}

// WorldMap holds the shared canvas dimensions every room is drawn into.
type WorldMap struct {
	Width  float64 `json:"width" mapstructure:"width"`
	Height float64 `json:"height" mapstructure:"height"`
}

// World is the immutable topology loaded at startup: map dimensions plus the
// full room list. Fixed for the process lifetime.
type World struct {
	Map   WorldMap `json:"map" mapstructure:"map"`
	Rooms []Room   `json:"rooms" mapstructure:"rooms"`
}

// DefaultRoomID is where fresh players spawn and where a positionUpdate
// without a room lands.
const DefaultRoomID RoomID = "hub"

// DefaultWorld is the built-in topology used when the config file carries no
// world section: the hub surrounded by five themed rooms.
func DefaultWorld() World {
	return World{
		Map: WorldMap{Width: 800, Height: 600},
		Rooms: []Room{
			{
				RoomID:     "hub",
				Name:       "The Hub",
				SpawnPoint: Point{X: 400, Y: 300},
				Color:      "#2C2C54",
				Doorways: []Doorway{
					{Direction: "top", X: 200, Y: 0, Width: 80, TargetRoom: "cinema"},
					{Direction: "top", X: 600, Y: 0, Width: 80, TargetRoom: "music"},
					{Direction: "left", X: 0, Y: 300, Width: 80, TargetRoom: "lounge"},
					{Direction: "right", X: 800, Y: 300, Width: 80, TargetRoom: "games"},
					{Direction: "bottom", X: 400, Y: 600, Width: 80, TargetRoom: "dev"},
				},
			},
			{
				RoomID:     "cinema",
				Name:       "Cinema",
				SpawnPoint: Point{X: 400, Y: 520},
				Color:      "#1B1B2F",
				Doorways: []Doorway{
					{Direction: "bottom", X: 200, Y: 600, Width: 80, TargetRoom: "hub"},
				},
			},
			{
				RoomID:     "music",
				Name:       "Music Room",
				SpawnPoint: Point{X: 400, Y: 520},
				Color:      "#3D1E6D",
				Doorways: []Doorway{
					{Direction: "bottom", X: 600, Y: 600, Width: 80, TargetRoom: "hub"},
				},
			},
			{
				RoomID:     "lounge",
				Name:       "Lounge",
				SpawnPoint: Point{X: 720, Y: 300},
				Color:      "#40302A",
				Doorways: []Doorway{
					{Direction: "right", X: 800, Y: 300, Width: 80, TargetRoom: "hub"},
				},
			},
			{
				RoomID:     "games",
				Name:       "Game Room",
				SpawnPoint: Point{X: 80, Y: 300},
				Color:      "#1F3D2B",
				Doorways: []Doorway{
					{Direction: "left", X: 0, Y: 300, Width: 80, TargetRoom: "hub"},
				},
			},
			{
				RoomID:     "dev",
				Name:       "Dev Corner",
				SpawnPoint: Point{X: 400, Y: 80},
				Color:      "#0F2A3F",
				Doorways: []Doorway{
					{Direction: "top", X: 400, Y: 0, Width: 80, TargetRoom: "hub"},
				},
			},
		},
	}
}
