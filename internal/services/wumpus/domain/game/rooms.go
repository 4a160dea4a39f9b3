package game

// RoomCount is the number of rooms in the cave. Rooms are numbered 1..RoomCount.
const RoomCount = 20

// tunnels lists the three neighbors of every room (index 0 is unused). The
// cave is a dodecahedron.
var tunnels = [RoomCount + 1][3]int{
	{},
	{2, 5, 8},
	{1, 3, 10},
	{2, 4, 12},
	{3, 5, 14},
	{1, 4, 6},
	{5, 7, 15},
	{6, 8, 17},
	{1, 7, 9},
	{8, 10, 18},
	{2, 9, 11},
	{10, 12, 19},
	{3, 11, 13},
	{12, 14, 20},
	{4, 13, 15},
	{6, 14, 16},
	{15, 17, 20},
	{7, 16, 18},
	{9, 17, 19},
	{11, 18, 20},
	{13, 16, 19},
}

// ValidRoom reports whether room names a room of the cave.
func ValidRoom(room int) bool {
	return room >= 1 && room <= RoomCount
}

// Neighbors returns the rooms connected to room.
func Neighbors(room int) [3]int {
	if !ValidRoom(room) {
		return [3]int{}
	}
	return tunnels[room]
}

// Adjacent reports whether a tunnel connects from and to.
func Adjacent(from, to int) bool {
	if !ValidRoom(to) {
		return false
	}
	for _, n := range Neighbors(from) {
		if n == to {
			return true
		}
	}
	return false
}
