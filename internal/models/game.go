// internal/models/game.go
package models

// GameDushnila is the only supported game for now.
const GameDushnila = "dushnila"

// DefaultGame is selected for lobbies that never chose one.
const DefaultGame = GameDushnila

// GameInfo captures per-game lobby limits.
type GameInfo struct {
	Title string `json:"title"`

	// TeamMaxSize is the capacity given to new teams (nil => unlimited).
	TeamMaxSize *int `json:"team_max_size"`

	// MaxTeams bounds how many teams a lobby of this game may have.
	MaxTeams int `json:"max_teams"`
}

// DefaultTeamCount is how many teams get seeded for a fresh lobby.
func (g GameInfo) DefaultTeamCount() int {
	max := g.MaxTeams
	if max < 1 {
		max = 1
	}
	return min(2, max)
}

func intPtr(v int) *int { return &v }

// Games is the catalog of known games keyed by identifier.
var Games = map[string]GameInfo{
	GameDushnila: {
		Title:       GameDushnila,
		TeamMaxSize: intPtr(5),
		MaxTeams:    2,
	},
}

// LookupGame returns the catalog entry for game.
func LookupGame(game string) (GameInfo, bool) {
	info, ok := Games[game]
	return info, ok
}
